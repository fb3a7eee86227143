package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	uaChromeDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36"
	uaChromeAndroid = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36"
	uaHuawei        = "Mozilla/5.0 (Linux; Android 10; ELS-AN00 Build/HUAWEIELS-AN00; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/88.0.4324.93 Mobile Safari/537.36 HuaweiBrowser/11.1.2.300"
	uaQuark         = "Mozilla/5.0 (Linux; U; Android 12; zh-CN; V2183A Build/SP1A.210812.003) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/100.0.4896.58 Quark/6.2.5.246 Mobile Safari/537.36"
	uaUC            = "Mozilla/5.0 (Linux; U; Android 11; zh-CN; M2012K11AC Build/RKQ1.200826.002) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/78.0.3904.108 UCBrowser/15.0.8.1198 Mobile Safari/537.36"
	uaWeChat        = "Mozilla/5.0 (Linux; Android 12; SM-G9910 Build/SP1A.210812.016; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/107.0.5304.141 Mobile Safari/537.36 XWEB/5023 MMWEBSDK/20221206 MMWEBID/2585 MicroMessenger/8.0.32.2300(0x2800205D) WeChat/arm64 Weixin NetType/WIFI Language/zh_CN ABI/arm64"
	uaSafariIOS     = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.2 Mobile/15E148 Safari/604.1"
	uaFirefox       = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaEdge          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.61"
	uaMiui          = "Mozilla/5.0 (Linux; U; Android 12; zh-cn; 2201123C Build/SKQ1.211006.001) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/100.0.4896.127 Mobile Safari/537.36 XiaoMi/MiuiBrowser/17.1.80509"
	uaQQBrowser     = "Mozilla/5.0 (Linux; U; Android 12; zh-cn; PEHM00 Build/SKQ1.210216.001) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/89.0.4389.72 MQQBrowser/13.5 Mobile Safari/537.36"
	uaMacSafari     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ua          string
		wantName    string
		wantClass   Class
		wantVersion string
		wantMobile  bool
		wantOS      string
		wantOSVer   string
	}{
		{name: "chrome desktop", ua: uaChromeDesktop, wantName: "Chrome", wantClass: ClassStandard, wantVersion: "120.0.6099.71", wantOS: "Windows", wantOSVer: "10.0"},
		{name: "chrome android", ua: uaChromeAndroid, wantName: "Chrome", wantClass: ClassStandard, wantVersion: "120.0.6099.43", wantMobile: true, wantOS: "Android", wantOSVer: "13"},
		{name: "huawei", ua: uaHuawei, wantName: "Huawei Browser", wantClass: ClassVendorOptimized, wantVersion: "11.1.2.300", wantMobile: true, wantOS: "Android", wantOSVer: "10"},
		{name: "quark", ua: uaQuark, wantName: "Quark", wantClass: ClassConstrained, wantVersion: "6.2.5.246", wantMobile: true, wantOS: "Android", wantOSVer: "12"},
		{name: "uc", ua: uaUC, wantName: "UC Browser", wantClass: ClassConstrained, wantVersion: "15.0.8.1198", wantMobile: true, wantOS: "Android", wantOSVer: "11"},
		{name: "wechat", ua: uaWeChat, wantName: "WeChat", wantClass: ClassInApp, wantVersion: "8.0.32.2300", wantMobile: true, wantOS: "Android", wantOSVer: "12"},
		{name: "safari ios", ua: uaSafariIOS, wantName: "Safari", wantClass: ClassStandard, wantVersion: "16.2", wantMobile: true, wantOS: "iOS", wantOSVer: "16.2"},
		{name: "safari mac", ua: uaMacSafari, wantName: "Safari", wantClass: ClassStandard, wantVersion: "17.1", wantOS: "macOS", wantOSVer: "10.15.7"},
		{name: "firefox linux", ua: uaFirefox, wantName: "Firefox", wantClass: ClassStandard, wantVersion: "121.0", wantOS: "Linux"},
		{name: "edge", ua: uaEdge, wantName: "Edge", wantClass: ClassStandard, wantVersion: "120.0.2210.61", wantOS: "Windows", wantOSVer: "10.0"},
		{name: "miui", ua: uaMiui, wantName: "MIUI Browser", wantClass: ClassConstrained, wantVersion: "17.1.80509", wantMobile: true, wantOS: "Android", wantOSVer: "12"},
		{name: "qq browser", ua: uaQQBrowser, wantName: "QQ Browser", wantClass: ClassConstrained, wantVersion: "13.5", wantMobile: true, wantOS: "Android", wantOSVer: "12"},
		{name: "empty", ua: "", wantName: Unknown, wantClass: ClassStandard},
		{name: "curl", ua: "curl/8.4.0", wantName: Unknown, wantClass: ClassStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Classify(tt.ua)
			assert.Equal(t, tt.wantName, p.Name)
			assert.Equal(t, tt.wantClass, p.Class)
			assert.Equal(t, tt.wantVersion, p.Version)
			assert.Equal(t, tt.wantMobile, p.Mobile)
			assert.Equal(t, tt.wantOS, p.OS)
			assert.Equal(t, tt.wantOSVer, p.OSVersion)
		})
	}
}

func TestClassifyFlags(t *testing.T) {
	t.Parallel()

	chrome := Classify(uaChromeDesktop)
	assert.True(t, chrome.Primary)
	assert.False(t, chrome.Constrained || chrome.InApp || chrome.VendorOptimized)

	huawei := Classify(uaHuawei)
	assert.True(t, huawei.VendorOptimized)
	assert.False(t, huawei.Primary, "embedded Chrome token must not make the vendor browser primary")

	assert.True(t, Classify(uaQuark).Constrained)
	assert.True(t, Classify(uaWeChat).InApp)
	assert.False(t, Classify(uaEdge).Primary)
}

func TestCompatibility(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		ua              string
		wantCompatible  bool
		wantRecommended string
	}{
		{name: "chrome desktop", ua: uaChromeDesktop, wantCompatible: true, wantRecommended: "Chrome"},
		{name: "huawei", ua: uaHuawei, wantCompatible: true, wantRecommended: "Huawei Browser"},
		{name: "firefox", ua: uaFirefox, wantCompatible: false, wantRecommended: "Chrome"},
		{name: "quark", ua: uaQuark, wantCompatible: false, wantRecommended: "Huawei Browser"},
		{name: "wechat", ua: uaWeChat, wantCompatible: false, wantRecommended: "Huawei Browser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Classify(tt.ua)
			assert.Equal(t, tt.wantCompatible, p.Compatible())
			assert.Equal(t, tt.wantRecommended, p.RecommendedBrowser())
		})
	}
}

// Every rule must be reachable: a UA carrying only a rule's own token must
// classify to that rule and not to an earlier one.
func TestRulesReachable(t *testing.T) {
	t.Parallel()

	tokens := map[string]string{
		"WeChat":           "MicroMessenger/8.0",
		"QQ":               "Mobile QQ/8.9.50",
		"Weibo":            "__weibo__13.2.1",
		"DingTalk":         "DingTalk/7.0.40",
		"Facebook":         "[FBAN/FBIOS;FBAV/440.0]",
		"Instagram":        "Instagram 300.0.0",
		"Quark":            "Quark/6.2.5",
		"UC Browser":       "UCBrowser/15.0",
		"QQ Browser":       "MQQBrowser/13.5",
		"Baidu":            "baiduboxapp/13.0",
		"MIUI Browser":     "MiuiBrowser/17.1",
		"HeyTap Browser":   "HeyTapBrowser/45.9",
		"vivo Browser":     "VivoBrowser/13.0",
		"Huawei Browser":   "HuaweiBrowser/11.1",
		"Edge":             "Edg/120.0",
		"Opera":            "OPR/105.0",
		"Samsung Internet": "SamsungBrowser/23.0",
		"Firefox":          "Firefox/121.0",
		"Chrome":           "Chrome/120.0",
		"Safari":           "Safari/605.1.15",
	}
	for _, r := range rules {
		token, ok := tokens[r.name]
		if !assert.True(t, ok, "missing token for rule %q", r.name) {
			continue
		}
		assert.Equal(t, r.name, Classify("Mozilla/5.0 "+token).Name, "token %q", token)
	}
}
