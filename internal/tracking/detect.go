package tracking

import (
	"net/http"
	"strings"
)

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func detectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	return "desktop"
}

// BotDetector flags link scanners and mail provider prefetchers so their
// hits can be separated from real engagement.
type BotDetector struct {
	patterns []string
}

func NewBotDetector() *BotDetector {
	return &BotDetector{
		patterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

func (bd *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, p := range bd.patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}
