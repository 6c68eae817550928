// Package rate spots broker throttling and bans in HTTP statuses and error
// messages and reports them as metrics.
package rate

import (
	"net/http"
	"net/url"
	"strings"

	"restbridge/logger"
)

const component = "rate_limit"

func fields(broker, endpoint string) logger.Fields {
	return logger.Fields{
		"broker":   strings.ToLower(broker),
		"endpoint": endpoint,
	}
}

// ReportRateLimitExceeded counts a throttled request and logs a warning.
func ReportRateLimitExceeded(log *logger.Log, broker, endpoint string, extra logger.Fields) {
	f := fields(broker, endpoint)
	for k, v := range extra {
		f[k] = v
	}
	l := log.WithComponent(component)
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", logger.Fields{"broker": f["broker"], "endpoint": endpoint})
	l.WithFields(f).Warn("rate limit exceeded")
}

// ReportIPBan counts a ban and logs an error.
func ReportIPBan(log *logger.Log, broker, endpoint string, extra logger.Fields) {
	f := fields(broker, endpoint)
	for k, v := range extra {
		f[k] = v
	}
	l := log.WithComponent(component)
	l.LogMetric(component, "ip_ban", int64(1), "counter", logger.Fields{"broker": f["broker"], "endpoint": endpoint})
	l.WithFields(f).Error("ip banned")
}

// detectLimit classifies a broker message as throttling, a ban or neither.
func detectLimit(msg string) (rateLimit bool, ipBan bool) {
	lower := strings.ToLower(msg)
	ipBan = strings.Contains(lower, "ip rate limit") ||
		(strings.Contains(lower, "ip") && (strings.Contains(lower, "ban") || strings.Contains(lower, "blocked")))
	rateLimit = !ipBan && (strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "too many visits") ||
		strings.Contains(lower, "frequency limit") ||
		strings.Contains(lower, "throttl"))
	return
}

// ReportLimitFromMessage records throttling or a ban when msg reads like one.
// It returns true when something was reported.
func ReportLimitFromMessage(log *logger.Log, broker, endpoint, msg string) bool {
	rateLimit, ipBan := detectLimit(msg)
	var extra logger.Fields
	if secs, ok := retryAfter(msg); ok {
		extra = logger.Fields{"retry_after_s": secs}
	}
	if rateLimit {
		ReportRateLimitExceeded(log, broker, endpoint, extra)
	}
	if ipBan {
		ReportIPBan(log, broker, endpoint, extra)
	}
	return rateLimit || ipBan
}

// ReportLimitFromStatus records throttling for HTTP 429 and a ban for 418,
// which some brokers use once a client ignores 429s.
func ReportLimitFromStatus(log *logger.Log, status int, rawURL string) bool {
	host := rawURL
	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
		path = u.Path
	}
	switch status {
	case http.StatusTooManyRequests:
		ReportRateLimitExceeded(log, host, path, logger.Fields{"status": status})
		return true
	case http.StatusTeapot:
		ReportIPBan(log, host, path, logger.Fields{"status": status})
		return true
	}
	return false
}
