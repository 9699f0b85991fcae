// Package logging provides structured logging for the TUIC relay server.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ConnID formats a connection id the way every log line shows it.
func ConnID(id uint32) string {
	return fmt.Sprintf("%#010x", id)
}

// AssocID formats a UDP association id the way every log line shows it.
func AssocID(id uint16) string {
	return fmt.Sprintf("%#06x", id)
}

// ForConnection scopes logger to one tunnel connection.
func ForConnection(logger *slog.Logger, id uint32, remote string) *slog.Logger {
	return logger.With(
		slog.String(KeyComponent, "connection"),
		slog.String(KeyConnID, ConnID(id)),
		slog.String(KeyRemoteAddr, remote),
	)
}

// ForAssociation scopes logger to one UDP association of a connection. user is
// captured when the association is created.
func ForAssociation(logger *slog.Logger, connID uint32, remote, user string, assocID uint16) *slog.Logger {
	return logger.With(
		slog.String(KeyComponent, "udp"),
		slog.String(KeyConnID, ConnID(connID)),
		slog.String(KeyRemoteAddr, remote),
		slog.String(KeyUser, user),
		slog.String(KeyAssocID, AssocID(assocID)),
	)
}

// Common attribute keys for consistent logging.
const (
	KeyConnID     = "conn_id"
	KeyAssocID    = "assoc_id"
	KeyUser       = "user"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeyAddress    = "address"
	KeyCommand    = "command"
	KeyRelayMode  = "relay_mode"
	KeyError      = "error"
	KeyComponent  = "component"
	KeyDuration   = "duration"
)
