package core

import (
	"strings"
)

// Platform is the coarse client family a session was opened from
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
)

// MaxUserAgentLength bounds the user agent stored with a session, in runes
const MaxUserAgentLength = 500

// ClientMetadata describes where a session was opened from. Advisory only,
// nothing in the engine makes a security decision on it.
type ClientMetadata struct {
	UserAgent  string
	IPAddress  string
	Platform   Platform
	DeviceID   string
	DeviceName string
}

// NewClientMetadata normalizes request data into ClientMetadata
func NewClientMetadata(userAgent, ip, deviceID, deviceName string) ClientMetadata {
	userAgent = truncateRunes(strings.ToValidUTF8(userAgent, ""), MaxUserAgentLength)
	return ClientMetadata{
		UserAgent:  userAgent,
		IPAddress:  ip,
		Platform:   DetectPlatform(userAgent),
		DeviceID:   deviceID,
		DeviceName: deviceName,
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// DetectPlatform guesses the platform from a user agent string
func DetectPlatform(userAgent string) Platform {
	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "mobile"):
		if strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") {
			return PlatformIOS
		}
		return PlatformAndroid
	case strings.Contains(ua, "mozilla"), strings.Contains(ua, "chrome"), strings.Contains(ua, "safari"):
		return PlatformWeb
	default:
		return PlatformDesktop
	}
}
