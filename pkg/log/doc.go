// Package log is the structured logging surface shared by faceshell
// components.
//
// Components depend only on the Logger interface. The zerolog adapter is
// what the faceshell binary wires in; the no-op logger is for tests and for
// embedders that do not care about output.
//
// # Usage
//
//	logger, err := log.NewZerolog(log.Options{Level: "info", Format: "console"})
//	if err != nil {
//	    return err
//	}
//	logger.Info("service started", log.String("addr", ":5000"))
//
// Child loggers carry fields into every message they emit:
//
//	svcLog := logger.With(log.String("component", "httpservice"))
//
// # Custom Loggers
//
// Implement Logger to plug faceshell into an existing logging setup:
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) With(fields ...log.Field) log.Logger { ... }
package log
