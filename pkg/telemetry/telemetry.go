// Package telemetry provides the tracers a machine can be given when no
// OpenTelemetry SDK is configured: one that records nothing, used by
// default, and one that keeps finished spans in memory.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Provider struct {
	trace.TracerProvider
}

var (
	provider    = &Provider{}
	tracer      = &Tracer{}
	span        = &Span{}
	spanContext = trace.SpanContext{}
)

func NewProvider() *Provider {
	return provider
}

func (provider *Provider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tracer
}

type Tracer struct {
	trace.Tracer
}

func (tracer *Tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, span
}

type Span struct {
	trace.Span
}

func (span *Span) End(options ...trace.SpanEndOption)                  {}
func (span *Span) AddEvent(name string, options ...trace.EventOption)  {}
func (span *Span) AddLink(link trace.Link)                             {}
func (span *Span) IsRecording() bool                                   { return false }
func (span *Span) RecordError(err error, options ...trace.EventOption) {}
func (span *Span) SetAttributes(kv ...attribute.KeyValue)              {}
func (span *Span) SetName(name string)                                 {}
func (span *Span) SetStatus(code codes.Code, description string)       {}
func (span *Span) SpanContext() trace.SpanContext                      { return spanContext }
func (span *Span) TracerProvider() trace.TracerProvider                { return provider }

// Recorder is a tracer that keeps every ended span.
type Recorder struct {
	trace.Tracer
	mu    sync.Mutex
	spans []*Recorded
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (recorder *Recorder) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	config := trace.NewSpanStartConfig(options...)
	recorded := &Recorded{
		Name:       name,
		Attributes: config.Attributes(),
		recorder:   recorder,
	}
	return trace.ContextWithSpan(ctx, recorded), recorded
}

// Spans returns the ended spans in the order they ended.
func (recorder *Recorder) Spans() []*Recorded {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]*Recorded(nil), recorder.spans...)
}

// Named returns the ended spans called name.
func (recorder *Recorder) Named(name string) []*Recorded {
	var named []*Recorded
	for _, recorded := range recorder.Spans() {
		if recorded.Name == name {
			named = append(named, recorded)
		}
	}
	return named
}

type Recorded struct {
	trace.Span
	Name        string
	Attributes  []attribute.KeyValue
	Events      []string
	Errors      []error
	Status      codes.Code
	Description string
	recorder    *Recorder
}

func (recorded *Recorded) End(options ...trace.SpanEndOption) {
	recorded.recorder.mu.Lock()
	defer recorded.recorder.mu.Unlock()
	recorded.recorder.spans = append(recorded.recorder.spans, recorded)
}

func (recorded *Recorded) AddEvent(name string, options ...trace.EventOption) {
	recorded.Events = append(recorded.Events, name)
}

func (recorded *Recorded) RecordError(err error, options ...trace.EventOption) {
	recorded.Errors = append(recorded.Errors, err)
}

func (recorded *Recorded) SetStatus(code codes.Code, description string) {
	recorded.Status, recorded.Description = code, description
}

func (recorded *Recorded) SetAttributes(kv ...attribute.KeyValue) {
	recorded.Attributes = append(recorded.Attributes, kv...)
}

// Attribute returns the value recorded for key.
func (recorded *Recorded) Attribute(key string) (attribute.Value, bool) {
	for _, kv := range recorded.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func (recorded *Recorded) AddLink(link trace.Link)              {}
func (recorded *Recorded) IsRecording() bool                    { return true }
func (recorded *Recorded) SetName(name string)                  { recorded.Name = name }
func (recorded *Recorded) SpanContext() trace.SpanContext       { return spanContext }
func (recorded *Recorded) TracerProvider() trace.TracerProvider { return provider }
