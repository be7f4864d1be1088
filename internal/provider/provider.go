// Package provider contains the adapters the relay uses to reach its
// language-understanding backends: hosted models, a local sidecar and a
// deterministic pattern engine that needs no network at all. Every
// adapter speaks the same narrow contract so the orchestrator can walk
// a chain of them without caring what sits behind each one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/handyboss/relay-gateway/internal/langdetect"
)

// Task identifies what the caller wants from a provider.
type Task string

const (
	TaskTranslate           Task = "translate"
	TaskDetectLanguage      Task = "detect-language"
	TaskExtractIntent       Task = "extract-intent"
	TaskAnalyzeConversation Task = "analyze-conversation"
)

// Payload is the input to a provider invocation. Source and target
// languages only apply to translation; Context carries recent
// conversation lines for the analyze task.
type Payload struct {
	Text       string
	SourceLang langdetect.Language
	TargetLang langdetect.Language
	Context    string
}

// Provider is the uniform adapter contract. Invoke returns the raw
// contract output (translated text, a language code, or a single JSON
// object, depending on the task); the orchestrator normalizes it.
// Available reports whether the adapter is worth trying at all, so the
// chain can skip it without burning a timeout slot.
type Provider interface {
	Name() string
	Available() bool
	Invoke(ctx context.Context, task Task, p Payload) (string, error)
}

// ErrorKind classifies provider failures. The orchestrator treats all
// kinds the same way (record and advance the chain); the kind exists
// for logs and metrics.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindParse       ErrorKind = "parse"
	KindRemote      ErrorKind = "remote"
)

// Error is the only error type adapters return.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(name string, kind ErrorKind, err error) *Error {
	return &Error{Provider: name, Kind: kind, Err: err}
}

// classify wraps a transport-level error, distinguishing timeouts from
// other remote failures.
func classify(name string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(name, KindTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return newError(name, KindTimeout, err)
	}
	return newError(name, KindRemote, err)
}

// Limited wraps a provider with a counting semaphore so any number of
// connection goroutines cannot stampede a rate-limited vendor.
// Acquisition respects the invoke context: a saturated provider counts
// as a timeout and the chain advances.
type Limited struct {
	Provider
	sem chan struct{}
}

// Limit caps concurrent invocations of p at n. n <= 0 means no cap.
func Limit(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &Limited{Provider: p, sem: make(chan struct{}, n)}
}

func (l *Limited) Invoke(ctx context.Context, task Task, p Payload) (string, error) {
	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
		return l.Provider.Invoke(ctx, task, p)
	case <-ctx.Done():
		return "", newError(l.Name(), KindTimeout, ctx.Err())
	}
}
