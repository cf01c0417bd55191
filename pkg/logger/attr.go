package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// Feature records the metered feature under the key "feature".
func Feature(id string) slog.Attr {
	return slog.String("feature", id)
}

// Tier records the effective subscription tier under the key "tier".
func Tier(tier string) slog.Attr {
	return slog.String("tier", tier)
}

// Usage groups a counter snapshot under the key "usage".
func Usage(count, limit int64) slog.Attr {
	return slog.Group("usage", slog.Int64("count", count), slog.Int64("limit", limit))
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}
