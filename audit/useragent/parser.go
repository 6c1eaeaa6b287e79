// Package useragent turns raw User-Agent headers into the browser, OS and
// device facts stored on audit entries.
package useragent

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "inconnu"
)

// Info is the parsed form of a User-Agent string.
type Info struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Device         string `json:"device"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// BrowserLabel returns "Name Version" or just the name.
func (i Info) BrowserLabel() string {
	if i.BrowserVersion == "" {
		return i.Browser
	}
	return i.Browser + " " + majorVersion(i.BrowserVersion)
}

// OSLabel returns "Name Version" or just the name.
func (i Info) OSLabel() string {
	if i.OSVersion == "" {
		return i.OS
	}
	return i.OS + " " + i.OSVersion
}

// Parse extracts browser, OS and device facts. An empty string yields
// "Inconnu" values rather than empty ones.
func Parse(raw string) Info {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Info{Browser: "Inconnu", OS: "Inconnu", Device: DeviceUnknown}
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	osInfo := ua.OSInfo()

	info := Info{
		Browser:        name,
		BrowserVersion: version,
		OS:             osInfo.Name,
		OSVersion:      osInfo.Version,
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
	if info.Browser == "" {
		info.Browser = "Inconnu"
	}
	if info.OS == "" {
		info.OS = "Inconnu"
	}

	lower := strings.ToLower(raw)
	switch {
	case info.Bot:
		info.Device = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.Device = DeviceTablet
	case info.Mobile:
		info.Device = DeviceMobile
	default:
		info.Device = DeviceDesktop
	}
	return info
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}
