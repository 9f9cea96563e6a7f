package queue

import (
	"fmt"
	"log/slog"
	"os"
)

// logger routes asynq's internal logging through slog.
type logger struct {
	l *slog.Logger
}

func newLogger(l *slog.Logger) *logger {
	return &logger{l: l.With("component", "asynq")}
}

func (a *logger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *logger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *logger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *logger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a *logger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
