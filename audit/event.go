// Package audit records the outcome of every CA request. An Event collects
// fields while a request is processed and is finalized exactly once before
// it is handed to a Sink.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Level is the severity of an audit event.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "ERROR"
	}
	return "INFO"
}

// Status is the terminal outcome of an audited request.
type Status int

const (
	StatusUndefined Status = iota
	StatusSuccessful
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "SUCCESSFUL"
	case StatusFailed:
		return "FAILED"
	}
	return "UNDEFINED"
}

// Well-known field names.
const (
	FieldMessageID   = "mid"
	FieldCA          = "ca"
	FieldRequestor   = "requestor"
	FieldRequestType = "req_type"
	FieldEventType   = "event_type"
	FieldMessage     = "message"
)

// ErrAlreadyFinalized is returned by Finalize on its second call.
var ErrAlreadyFinalized = errors.New("audit event already finalized")

// Field is one ordered key/value pair of an event.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Event is the audit record of one request.
type Event struct {
	ApplicationName string
	Name            string
	Timestamp       time.Time
	Duration        time.Duration
	Level           Level
	Status          Status

	mu        sync.Mutex
	fields    []Field
	finalized bool
}

// NewEvent starts an event stamped with the current time.
func NewEvent(application, name string) *Event {
	return &Event{
		ApplicationName: application,
		Name:            name,
		Timestamp:       time.Now().UTC(),
	}
}

// AddField sets name to the string form of value, replacing an earlier
// value of the same name in place.
func (e *Event) AddField(name string, value any) {
	v := fmt.Sprint(value)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.fields {
		if e.fields[i].Name == name {
			e.fields[i].Value = v
			return
		}
	}
	e.fields = append(e.fields, Field{Name: name, Value: v})
}

// Field returns the value of the named field.
func (e *Event) Field(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Fields returns a copy of the fields in insertion order.
func (e *Event) Fields() []Field {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Field(nil), e.fields...)
}

// Finalize commits level, status and duration. It may be called once.
func (e *Event) Finalize(level Level, status Status, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return ErrAlreadyFinalized
	}
	e.Level = level
	e.Status = status
	e.Duration = duration
	e.finalized = true
	return nil
}

// Finalized reports whether Finalize has been called.
func (e *Event) Finalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// Sink receives finalized events.
type Sink interface {
	Emit(ctx context.Context, e *Event) error
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(context.Context, *Event) error { return nil }
