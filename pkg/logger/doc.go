// Package logger builds *slog.Logger instances for the billing services and
// provides attribute constructors that keep key names consistent.
//
// New takes functional options: output format, level, static attributes,
// environment presets and ContextExtractor callbacks. Extractors run on every
// Handle call through LogHandlerDecorator, so request-scoped values stored in
// a context.Context are logged without passing them around. Gateway
// credentials, signatures and e-mail addresses are redacted by default.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(os.Getenv("APP_ENV"), "billingd"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "subscription activated",
//	    logger.SubscriptionID(sub.ID),
//	    logger.UserID(sub.UserID),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
