// Package user_agent classifies user-agent strings into coarse device and
// browser categories using ordered substring rules.
package user_agent

import "strings"

// Device categories
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Browser families
const (
	BrowserChrome  = "chrome"
	BrowserSafari  = "safari"
	BrowserFirefox = "firefox"
	BrowserEdge    = "edge"
	BrowserOpera   = "opera"
	BrowserUnknown = "unknown"
)

type UserAgent struct {
	UserAgent string
	Browser   string
	Device    string
	Mobile    bool
	Tablet    bool
	Desktop   bool
}

var tabletMarkers = []string{"ipad", "tablet", "kindle", "silk", "playbook"}

var mobileMarkers = []string{
	"mobile", "iphone", "ipod", "android", "blackberry",
	"opera mini", "iemobile", "windows phone",
}

// ParseUserAgent classifies ua. Device priority is tablet, then mobile, then
// desktop; browser rules are evaluated in order and the first match wins.
func ParseUserAgent(ua string) UserAgent {
	lower := strings.ToLower(ua)

	result := UserAgent{
		UserAgent: ua,
		Device:    deviceFor(lower),
		Browser:   browserFor(lower),
	}
	result.Tablet = result.Device == DeviceTablet
	result.Mobile = result.Device == DeviceMobile
	result.Desktop = result.Device == DeviceDesktop
	return result
}

func deviceFor(ua string) string {
	if containsAny(ua, tabletMarkers) {
		return DeviceTablet
	}
	// Android without a "mobile" token is an Android tablet.
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobile") {
		return DeviceTablet
	}
	if containsAny(ua, mobileMarkers) {
		return DeviceMobile
	}
	return DeviceDesktop
}

func browserFor(ua string) string {
	switch {
	case strings.Contains(ua, "chrome") && !strings.Contains(ua, "edg"):
		return BrowserChrome
	case strings.Contains(ua, "safari") && !strings.Contains(ua, "chrome"):
		return BrowserSafari
	case strings.Contains(ua, "firefox"):
		return BrowserFirefox
	case strings.Contains(ua, "edg"):
		return BrowserEdge
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr/"):
		return BrowserOpera
	default:
		return BrowserUnknown
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
