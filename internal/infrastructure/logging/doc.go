// Package logging builds the registry's zap loggers.
//
// Production loggers write JSON to stderr; development loggers write
// colored console output at debug level. Components receive a *zap.Logger
// and attach their own fields:
//
//	logger := logging.NewDefault()
//	logger.Info("Committed application", zap.String("id", id))
package logging
