// Package logger provides structured logging for the plugin platform
// using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields. Loggers are passed
// explicitly through constructors; packages default to Nop() when none
// is supplied.
//
// # Usage
//
//	log := logger.NewDefault().WithComponent("registry")
//	log.Info("provider registered", logger.Fields("provider", "cache-redis"))
package logger
