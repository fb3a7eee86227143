package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := run(version, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
