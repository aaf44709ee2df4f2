package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog covers the window before the structured logger exists,
// typically config loading and logger construction itself.
type EarlyLog struct {
	out io.Writer
	err io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stdout, err: os.Stderr}
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "INFO: "+msg+"\n", args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.err, "WARN: "+msg+"\n", args...)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.err, "ERROR: "+msg+"\n", args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(l.err, "FATAL: "+msg+"\n", args...)
	os.Exit(1)
}
