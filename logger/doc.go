// Package logger provides structured logging capabilities.
//
// Usage:
//
//	log, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	audit, err := logger.NewAuditFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	log.Info("listening", zap.String("addr", addr))
package logger
