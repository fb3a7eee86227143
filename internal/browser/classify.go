package browser

import (
	"regexp"
	"strings"
)

// rule is one row of the classification table. Rules are evaluated in order
// and the first match wins, so embedded browsers that also carry a "Chrome/"
// token must precede the engines they are built on.
type rule struct {
	name    string
	class   Class
	primary bool
	match   *regexp.Regexp
	version *regexp.Regexp
}

var rules = []rule{
	// In-app and social browsers.
	{name: "WeChat", class: ClassInApp, match: regexp.MustCompile(`MicroMessenger`), version: regexp.MustCompile(`MicroMessenger/([\d.]+)`)},
	{name: "QQ", class: ClassInApp, match: regexp.MustCompile(`\sQQ/`), version: regexp.MustCompile(`\sQQ/([\d.]+)`)},
	{name: "Weibo", class: ClassInApp, match: regexp.MustCompile(`(?i)weibo`), version: regexp.MustCompile(`__weibo__([\d.]+)`)},
	{name: "DingTalk", class: ClassInApp, match: regexp.MustCompile(`DingTalk`), version: regexp.MustCompile(`DingTalk/([\d.]+)`)},
	{name: "Facebook", class: ClassInApp, match: regexp.MustCompile(`FBAN|FBAV`), version: regexp.MustCompile(`FBAV/([\d.]+)`)},
	{name: "Instagram", class: ClassInApp, match: regexp.MustCompile(`Instagram`), version: regexp.MustCompile(`Instagram ([\d.]+)`)},

	// Vendor browsers with limited worker support.
	{name: "Quark", class: ClassConstrained, match: regexp.MustCompile(`Quark`), version: regexp.MustCompile(`Quark/([\d.]+)`)},
	{name: "UC Browser", class: ClassConstrained, match: regexp.MustCompile(`UCBrowser|UCWEB`), version: regexp.MustCompile(`UCBrowser/([\d.]+)`)},
	{name: "QQ Browser", class: ClassConstrained, match: regexp.MustCompile(`M?QQBrowser`), version: regexp.MustCompile(`M?QQBrowser/([\d.]+)`)},
	{name: "Baidu", class: ClassConstrained, match: regexp.MustCompile(`Baidu|baiduboxapp|BIDUBrowser`), version: regexp.MustCompile(`(?:baiduboxapp|BaiduBrowser|BIDUBrowser|baidubrowser)/([\d.]+)`)},
	{name: "MIUI Browser", class: ClassConstrained, match: regexp.MustCompile(`MiuiBrowser`), version: regexp.MustCompile(`MiuiBrowser/([\d.]+)`)},
	{name: "HeyTap Browser", class: ClassConstrained, match: regexp.MustCompile(`HeyTapBrowser`), version: regexp.MustCompile(`HeyTapBrowser/([\d.]+)`)},
	{name: "vivo Browser", class: ClassConstrained, match: regexp.MustCompile(`VivoBrowser`), version: regexp.MustCompile(`VivoBrowser/([\d.]+)`)},

	{name: "Huawei Browser", class: ClassVendorOptimized, match: regexp.MustCompile(`HuaweiBrowser`), version: regexp.MustCompile(`HuaweiBrowser/([\d.]+)`)},

	// Standards-aligned engines.
	{name: "Edge", class: ClassStandard, match: regexp.MustCompile(`Edg(?:e|A|iOS)?/`), version: regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{name: "Opera", class: ClassStandard, match: regexp.MustCompile(`OPR/|OPiOS/`), version: regexp.MustCompile(`(?:OPR|OPiOS)/([\d.]+)`)},
	{name: "Samsung Internet", class: ClassStandard, match: regexp.MustCompile(`SamsungBrowser`), version: regexp.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{name: "Firefox", class: ClassStandard, match: regexp.MustCompile(`Firefox/|FxiOS/`), version: regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{name: "Chrome", class: ClassStandard, primary: true, match: regexp.MustCompile(`Chrome/|CriOS/`), version: regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{name: "Safari", class: ClassStandard, match: regexp.MustCompile(`Safari/`), version: regexp.MustCompile(`Version/([\d.]+)`)},
}

type osRule struct {
	name    string
	match   *regexp.Regexp
	version *regexp.Regexp
}

var osRules = []osRule{
	{name: "HarmonyOS", match: regexp.MustCompile(`HarmonyOS|OpenHarmony`), version: regexp.MustCompile(`(?:HarmonyOS|OpenHarmony)[ /]([\d.]+)`)},
	{name: "Android", match: regexp.MustCompile(`Android`), version: regexp.MustCompile(`Android\s([0-9.]+)`)},
	{name: "iOS", match: regexp.MustCompile(`iPhone|iPad|iPod`), version: regexp.MustCompile(`OS (\d+(?:_\d+)*) like Mac OS X`)},
	{name: "Windows", match: regexp.MustCompile(`Windows`), version: regexp.MustCompile(`Windows NT ([\d.]+)`)},
	{name: "macOS", match: regexp.MustCompile(`Macintosh|Mac OS X`), version: regexp.MustCompile(`Mac OS X (\d+(?:[_.]\d+)*)`)},
	{name: "Linux", match: regexp.MustCompile(`Linux`)},
}

var mobileRe = regexp.MustCompile(`Mobile|Android|iPhone|iPad|iPod`)

// Unknown is the name given to user agents no rule matches.
const Unknown = "Unknown"

// Classify derives a Profile from a user-agent string.
func Classify(ua string) Profile {
	p := Profile{
		Name:   Unknown,
		Class:  ClassStandard,
		Mobile: mobileRe.MatchString(ua),
	}
	for _, r := range rules {
		if !r.match.MatchString(ua) {
			continue
		}
		p.Name = r.name
		p.Class = r.class
		p.Primary = r.primary
		p.Version = submatch(r.version, ua)
		break
	}
	switch p.Class {
	case ClassConstrained:
		p.Constrained = true
	case ClassVendorOptimized:
		p.VendorOptimized = true
	case ClassInApp:
		p.InApp = true
	}

	for _, r := range osRules {
		if !r.match.MatchString(ua) {
			continue
		}
		p.OS = r.name
		p.OSVersion = strings.ReplaceAll(submatch(r.version, ua), "_", ".")
		break
	}
	return p
}

func submatch(re *regexp.Regexp, s string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
