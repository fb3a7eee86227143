// Package browser classifies the requesting environment from its user agent.
package browser

// Class groups browsers by how well they host an installed web app.
type Class string

const (
	// ClassStandard covers the primary engine and other standards-aligned browsers.
	ClassStandard Class = "standard"
	// ClassConstrained covers vendor browsers with limited or unreliable worker support.
	ClassConstrained Class = "constrained"
	// ClassVendorOptimized covers the one vendor browser with good mobile app support.
	ClassVendorOptimized Class = "vendor-optimized"
	// ClassInApp covers embedded social/in-app browsers without real app support.
	ClassInApp Class = "in-app"
)

const (
	recommendedMobile  = "Huawei Browser"
	recommendedDesktop = "Chrome"
)

// Profile is the classification of one user agent. It is computed once and
// never mutated afterwards.
type Profile struct {
	Name            string `json:"name"`
	Version         string `json:"version,omitempty"`
	Class           Class  `json:"class"`
	Primary         bool   `json:"isPrimary"`
	VendorOptimized bool   `json:"isVendorOptimized"`
	Constrained     bool   `json:"isConstrained"`
	InApp           bool   `json:"isInApp"`
	Mobile          bool   `json:"isMobile"`
	OS              string `json:"os,omitempty"`
	OSVersion       string `json:"osVersion,omitempty"`
}

// Compatible reports whether the app can be installed and run offline
// reliably: only the primary engine and the vendor-optimized browser qualify.
func (p Profile) Compatible() bool {
	return p.Primary || p.VendorOptimized
}

// RecommendedBrowser names the browser suggested to users of an
// incompatible one.
func (p Profile) RecommendedBrowser() string {
	if p.Mobile {
		return recommendedMobile
	}
	return recommendedDesktop
}
