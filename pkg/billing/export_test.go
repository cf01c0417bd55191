package billing

// ParsePaddleEvent exposes the webhook decoder to external tests.
var ParsePaddleEvent = parsePaddleEvent
