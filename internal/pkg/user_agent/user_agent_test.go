package user_agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
	}{
		{
			name:    "desktop chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:  DeviceDesktop,
			browser: BrowserChrome,
		},
		{
			name:    "iphone safari",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			device:  DeviceMobile,
			browser: BrowserSafari,
		},
		{
			name:    "ipad wins over mobile token",
			ua:      "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			device:  DeviceTablet,
			browser: BrowserSafari,
		},
		{
			name:    "android tablet without mobile token",
			ua:      "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:  DeviceTablet,
			browser: BrowserChrome,
		},
		{
			name:    "android phone",
			ua:      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			device:  DeviceMobile,
			browser: BrowserChrome,
		},
		{
			name:    "firefox",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			device:  DeviceDesktop,
			browser: BrowserFirefox,
		},
		{
			name:    "edge is not chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			device:  DeviceDesktop,
			browser: BrowserEdge,
		},
		{
			name:    "legacy opera",
			ua:      "Opera/9.80 (Windows NT 6.1; WOW64) Presto/2.12.388 Version/12.18",
			device:  DeviceDesktop,
			browser: BrowserOpera,
		},
		{
			name:    "empty",
			ua:      "",
			device:  DeviceDesktop,
			browser: BrowserUnknown,
		},
		{
			name:    "curl",
			ua:      "curl/8.4.0",
			device:  DeviceDesktop,
			browser: BrowserUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.device, got.Device)
			assert.Equal(t, tt.browser, got.Browser)
			assert.Equal(t, tt.device == DeviceMobile, got.Mobile)
			assert.Equal(t, tt.device == DeviceTablet, got.Tablet)
			assert.Equal(t, tt.device == DeviceDesktop, got.Desktop)
		})
	}
}
