// Package tests records what a machine does so tests can assert on order.
package tests

import (
	"context"
	"strings"
	"sync"
)

// Recorder collects entries of the form "step:name". Its Trace method
// satisfies machine.Trace, and Record can be called from actions directly.
type Recorder struct {
	mu      sync.Mutex
	entries []string
	steps   map[string]struct{}
}

// NewRecorder records only the given trace steps, or every step when none
// are given.
func NewRecorder(steps ...string) *Recorder {
	recorder := &Recorder{steps: map[string]struct{}{}}
	for _, step := range steps {
		recorder.steps[step] = struct{}{}
	}
	return recorder
}

func (recorder *Recorder) Record(entry string) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.entries = append(recorder.entries, entry)
}

func (recorder *Recorder) Trace(ctx context.Context, step string, names ...string) func(...any) {
	if _, ok := recorder.steps[step]; ok || len(recorder.steps) == 0 {
		recorder.Record(step + ":" + strings.Join(names, ","))
	}
	return func(...any) {}
}

func (recorder *Recorder) Entries() []string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]string(nil), recorder.entries...)
}

func (recorder *Recorder) Count(entry string) int {
	count := 0
	for _, recorded := range recorder.Entries() {
		if recorded == entry {
			count++
		}
	}
	return count
}

func (recorder *Recorder) Reset() {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.entries = nil
}
