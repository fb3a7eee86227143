package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"offline0/internal/browser"
	"offline0/internal/offline0"
	"offline0/internal/worker"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Version bool `long:"version" description:"Show version and exit"`
}

// ServeCommand runs the caching front.
type ServeCommand struct {
	Config   string `long:"config" env:"OFFLINE0_CONFIG" default:"/offline0.yaml" description:"Path to offline0.yaml"`
	Port     int    `long:"port" description:"Override server.port"`
	LogLevel string `long:"log-level" description:"Override logging.level"`

	globals *GlobalFlags
	version string
}

// ClassifyCommand prints the profile and strategy picked for a user agent.
type ClassifyCommand struct {
	UserAgent string `long:"ua" required:"true" description:"User-Agent header to classify"`

	out io.Writer
}

type commands struct {
	Serve    *ServeCommand
	Classify *ClassifyCommand
}

func buildParser(version string, out io.Writer) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "offline0"
	parser.LongDescription = "Offline caching front for the image compressor app."

	cmds := &commands{
		Serve:    &ServeCommand{globals: &globals, version: version},
		Classify: &ClassifyCommand{out: out},
	}
	parser.AddCommand("serve", "Run the caching front", "Install the worker, then serve pages and the control channel.", cmds.Serve)
	parser.AddCommand("classify", "Classify a user agent", "Print the browser profile and fetch strategy chosen for a user agent.", cmds.Classify)
	return parser, &globals, cmds
}

func run(version string, args []string) error {
	return runWithOutput(version, args, os.Stdout)
}

func runWithOutput(version string, args []string, out io.Writer) error {
	// go-flags wants a subcommand; --version stands alone.
	for _, arg := range args {
		if arg == "--version" {
			fmt.Fprintf(out, "offline0 %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version, out)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

func (c *ServeCommand) Execute(_ []string) error {
	cfg, err := offline0.LoadConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	log, err := offline0.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := offline0.NewService(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("offline0 listening",
			zap.String("addr", addr),
			zap.String("origin", cfg.Server.Origin),
			zap.String("version", c.version),
		)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

type classification struct {
	Profile            browser.Profile `json:"profile"`
	Strategy           string          `json:"strategy"`
	IsCompatible       bool            `json:"isCompatible"`
	RecommendedBrowser string          `json:"recommendedBrowser"`
}

func (c *ClassifyCommand) Execute(_ []string) error {
	p := browser.Classify(strings.TrimSpace(c.UserAgent))
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(classification{
		Profile:            p,
		Strategy:           worker.Select(p).Name(),
		IsCompatible:       p.Compatible(),
		RecommendedBrowser: p.RecommendedBrowser(),
	})
}
