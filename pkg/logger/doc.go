// Package logger builds *slog.Logger instances for the metering service.
//
// New applies functional options (format, level, static attributes, an
// environment preset) and wraps the chosen slog handler so that registered
// ContextExtractor callbacks can inject request-scoped values such as the
// request id or the authenticated user into every record.
//
// Attribute helpers (Feature, UserID, Usage, Error, ...) keep key names
// consistent across packages:
//
//	log := logger.New(
//		logger.WithEnvironment("production", "meter"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "usage decision",
//		logger.Feature("search"),
//		logger.Usage(19, 20),
//	)
//
// Components accept a *slog.Logger as a dependency; Nop provides a discarding
// logger for tests and optional wiring.
package logger
