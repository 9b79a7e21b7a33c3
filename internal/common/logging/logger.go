// Package logging is the dispatcher's structured logger: a small Logger
// interface backed by zap, a process-wide default, and context helpers that
// tag log lines with the worker and message being handled.
package logging

import (
	"context"
	"time"
)

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is what components log through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

type contextKey string

const (
	workerKey  contextKey = "worker"
	messageKey contextKey = "message_id"
)

// ContextWithWorker tags ctx with the name of the dispatcher worker running on it.
func ContextWithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerKey, worker)
}

// ContextWithMessageID tags ctx with the id of the message being processed.
func ContextWithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageKey, id)
}

func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Strings(key string, values []string) Field      { return Field{Key: key, Value: values} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field            { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field              { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field        { return Field{Key: key, Value: value} }

// Err attaches err under the key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
