package model

import (
	"strings"

	"github.com/mileusna/useragent"
)

// UnknownClient labels a device or browser the user agent does not reveal.
const UnknownClient = "Unknown"

// ClientInfo carries client context captured when an attempt begins.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// Device names the platform family of the user agent.
func (c ClientInfo) Device() string {
	if strings.TrimSpace(c.UserAgent) == "" {
		return UnknownClient
	}
	switch ua := useragent.Parse(c.UserAgent); ua.OS {
	case useragent.Android:
		return "Android"
	case useragent.IOS:
		return "iOS"
	case useragent.WindowsPhone:
		return "Windows Phone"
	case useragent.Windows:
		return "Windows"
	case useragent.MacOS:
		return "Mac"
	case useragent.ChromeOS:
		return "Chrome OS"
	case useragent.Linux:
		return "Linux"
	default:
		return UnknownClient
	}
}

// Browser names the browser family of the user agent.
func (c ClientInfo) Browser() string {
	if strings.TrimSpace(c.UserAgent) == "" {
		return UnknownClient
	}
	switch ua := useragent.Parse(c.UserAgent); ua.Name {
	case useragent.Edge:
		return "Edge"
	case useragent.Opera:
		return "Opera"
	case useragent.Chrome:
		return "Chrome"
	case useragent.Firefox:
		return "Firefox"
	case useragent.Safari:
		return "Safari"
	case useragent.InternetExplorer:
		return "Internet Explorer"
	default:
		return UnknownClient
	}
}
