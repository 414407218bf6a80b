// Package logger provides structured, actor-scoped logging shared by every
// kernel binary. It wraps logrus with trace-ID context propagation so a
// single reservation's lifecycle can be followed across log lines emitted
// by different goroutines.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to stash logging metadata.
type ContextKey string

const (
	// TraceIDKey correlates log lines belonging to one kernel tick or one
	// RPC round trip.
	TraceIDKey ContextKey = "trace_id"
	// ActorKey identifies which actor role emitted the line.
	ActorKey ContextKey = "actor"
)

// Logger wraps logrus.Logger with kernel-domain structured helpers.
type Logger struct {
	*logrus.Logger
	actor string
}

// Config controls logger construction. Field names mirror pkg/config's
// Logging sub-struct.
type Config struct {
	Level      string
	Format     string
	Output     string
	Directory  string
	FilePrefix string
}

// New creates a Logger for the given actor ("orchestrator", "broker",
// "authority") using cfg.
func New(actor string, cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		dir := cfg.Directory
		if dir == "" {
			dir = "logs"
		}
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = actor
		}
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			log.Errorf("create log directory %s: %v", dir, mkErr)
			log.SetOutput(os.Stdout)
			break
		}
		path := dir + string(os.PathSeparator) + prefix + ".log"
		file, openErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			log.Errorf("open log file %s: %v", path, openErr)
			log.SetOutput(os.Stdout)
			break
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		log.SetOutput(os.Stdout)
	}

	return &Logger{Logger: log, actor: actor}
}

// NewTraceID generates a fresh correlation ID for a tick or RPC round trip.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID retrieves the correlation ID from ctx, or "" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext returns a log entry carrying the actor name and any trace ID
// present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("actor", l.actor)
	if traceID := TraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields returns a log entry carrying the actor name plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["actor"] = l.actor
	return l.Logger.WithFields(fields)
}

// LogTransition logs a reservation, delegation, or slice state transition.
func (l *Logger) LogTransition(ctx context.Context, kind, id, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"kind": kind,
		"id":   id,
		"from": from,
		"to":   to,
	}).Info("state transition")
}

// LogTick logs the duration and outcome of one kernel tick.
func (l *Logger) LogTick(ctx context.Context, duration time.Duration, pending int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"duration_ms": duration.Milliseconds(),
		"pending":     pending,
	})
	if err != nil {
		entry.WithError(err).Warn("tick completed with errors")
		return
	}
	entry.Debug("tick completed")
}

// LogRPCSend logs an outbound RPC call.
func (l *Logger) LogRPCSend(ctx context.Context, peer, message string, sequence int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"peer":     peer,
		"message":  message,
		"sequence": sequence,
	})
	if err != nil {
		entry.WithError(err).Error("rpc send failed")
		return
	}
	entry.Debug("rpc sent")
}

// LogRPCReceive logs an inbound RPC message, including sequence-discipline
// outcomes such as duplicate or stale detection.
func (l *Logger) LogRPCReceive(ctx context.Context, peer, message string, sequence int64, outcome string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"peer":     peer,
		"message":  message,
		"sequence": sequence,
		"outcome":  outcome,
	}).Info("rpc received")
}

// LogRecovery logs a kernel recovery pass finding and re-driving a
// reservation's pending operation after restart.
func (l *Logger) LogRecovery(ctx context.Context, id string, pendingOp string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"id":         id,
		"pending_op": pendingOp,
	})
	if err != nil {
		entry.WithError(err).Error("recovery failed, left for operator")
		return
	}
	entry.Info("recovery re-driven")
}

// Global default logger, initialized once per process by cmd/* main().

var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(actor string, cfg Config) {
	defaultLogger = New(actor, cfg)
}

// Default returns the process-wide logger, falling back to a bare stdout
// logger if InitDefault was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("unknown", Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return defaultLogger
}

// FormatDuration renders d in milliseconds for log fields that want a
// human string instead of an int.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
