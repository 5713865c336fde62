package recorder

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Agent is what a click's User-Agent header says about the client.
type Agent struct {
	Device  string
	Browser string
	OS      string
	Bot     bool
}

func ParseUserAgent(raw string) Agent {
	if strings.TrimSpace(raw) == "" {
		return Agent{Device: DeviceUnknown}
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	agent := Agent{
		Browser: browser,
		OS:      ua.OSInfo().Name,
		Bot:     ua.Bot(),
	}

	lower := strings.ToLower(raw)
	switch {
	case agent.Bot:
		agent.Device = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		agent.Device = DeviceTablet
	case ua.Mobile():
		agent.Device = DeviceMobile
	default:
		agent.Device = DeviceDesktop
	}

	return agent
}
