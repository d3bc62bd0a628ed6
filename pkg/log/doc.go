// Package log provides bucface's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds the formatter and
// outputs configured on the logger.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("broker"), log.Str("collection", "events"))
//	l.Info("broker started", log.Str("addr", ":7070"))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and console, file or null outputs. Redaction and
// sampling are applied by the slog bridge handler.
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble, net/http), use
// ToStdLogger or RedirectStdLog.
package log
