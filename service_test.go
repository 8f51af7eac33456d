package machine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	machine "github.com/stateforward/go-machine"
	"github.com/stateforward/go-machine/clock"
	"github.com/stateforward/go-machine/kinds"
	"github.com/stateforward/go-machine/pkg/tests"
	"github.com/stateforward/go-machine/store"
)

func start(t *testing.T, def *machine.Definition, maybeConfig ...machine.Config) *machine.Service {
	t.Helper()
	service, err := machine.New(def, maybeConfig...)
	require.NoError(t, err)
	require.NoError(t, service.Start())
	t.Cleanup(func() { _ = service.Stop() })
	return service
}

func values(states *[]string) func(*machine.State) {
	return func(state *machine.State) {
		*states = append(*states, state.Value)
	}
}

func TestMenuScenario(t *testing.T) {
	registered, cleaned := 0, 0
	def := machine.Define("menu",
		machine.Initial("closed"),
		machine.State("closed",
			machine.On("OPEN", machine.Target("open")),
		),
		machine.State("open",
			machine.Tags("visible"),
			machine.Activity(func(ctx machine.Context, event machine.Event) func() {
				registered++
				return func() { cleaned++ }
			}),
			machine.On("CLOSE", machine.Target("closed")),
		),
	)
	service := start(t, def)
	var seen []string
	service.Subscribe(values(&seen))

	require.NoError(t, service.Send(machine.NewEvent("OPEN")))
	assert.True(t, service.State().HasTag("visible"))
	require.NoError(t, service.Send(machine.NewEvent("OPEN")))
	require.NoError(t, service.Send(machine.NewEvent("CLOSE")))
	assert.False(t, service.State().HasTag("visible"))
	assert.False(t, service.State().HasAnyTag("visible", "highlighted"))
	require.NoError(t, service.Send(machine.NewEvent("CLOSE")))

	assert.Equal(t, []string{"open", "closed"}, seen)
	assert.Equal(t, 1, registered)
	assert.Equal(t, 1, cleaned)
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	def := machine.Define("editable",
		machine.Initial("preview"),
		machine.Defaults(map[string]any{"value": "x"}),
		machine.State("preview", machine.On("EDIT", machine.Target("edit"))),
		machine.State("edit"),
	)
	service := start(t, def)
	before := service.State()
	notified := 0
	service.Subscribe(func(*machine.State) { notified++ })

	require.NoError(t, service.Send(machine.NewEvent("ESCAPE")))
	require.NoError(t, service.Send(machine.NewEvent("")))

	after := service.State()
	assert.Zero(t, notified)
	assert.Equal(t, before.Value, after.Value)
	assert.True(t, before.Context.Equal(after.Context))
	assert.False(t, after.Changed)
}

func TestExitRunsBeforeEntry(t *testing.T) {
	recorder := tests.NewRecorder("execute", "cleanup", "start")
	record := func(entry string) machine.ActionFunc {
		return func(machine.Context, machine.Event) { recorder.Record(entry) }
	}
	def := machine.Define("pairing",
		machine.Initial("a"),
		machine.State("a",
			machine.Entry(record("enter a")),
			machine.Exit(record("exit a")),
			machine.Activity("listen"),
			machine.On("NEXT", machine.Target("b"), machine.Effect(record("effect"))),
			machine.On("AGAIN", machine.Target("a")),
		),
		machine.State("b", machine.Entry(record("enter b"))),
	)
	service := start(t, def, machine.Config{
		Trace: recorder.Trace,
		Implementations: machine.Implementations{
			Activities: map[string]machine.ActivityFunc{
				"listen": func(machine.Context, machine.Event) func() { return func() {} },
			},
		},
	})

	t.Run("self transition re-enters", func(t *testing.T) {
		recorder.Reset()
		require.NoError(t, service.Send(machine.NewEvent("AGAIN")))
		entries := recorder.Entries()
		assert.Equal(t, 1, recorder.Count("exit a"))
		assert.Equal(t, 1, recorder.Count("enter a"))
		assert.Equal(t, 1, recorder.Count("cleanup:listen"))
		assert.Equal(t, 1, recorder.Count("start:listen"))
		assert.Less(t, indexOf(entries, "exit a"), indexOf(entries, "enter a"))
		assert.Less(t, indexOf(entries, "cleanup:listen"), indexOf(entries, "enter a"))
	})

	t.Run("external transition", func(t *testing.T) {
		recorder.Reset()
		require.NoError(t, service.Send(machine.NewEvent("NEXT")))
		entries := recorder.Entries()
		assert.Less(t, indexOf(entries, "exit a"), indexOf(entries, "cleanup:listen"))
		assert.Less(t, indexOf(entries, "cleanup:listen"), indexOf(entries, "effect"))
		assert.Less(t, indexOf(entries, "effect"), indexOf(entries, "enter b"))
		assert.Equal(t, 1, recorder.Count("cleanup:listen"))
	})
}

func indexOf(entries []string, entry string) int {
	for i, recorded := range entries {
		if recorded == entry {
			return i
		}
	}
	return -1
}

func TestInternalTransition(t *testing.T) {
	entered := 0
	def := machine.Define("internal",
		machine.Initial("open"),
		machine.Defaults(map[string]any{"highlighted": ""}),
		machine.State("open",
			machine.Entry(func(machine.Context, machine.Event) { entered++ }),
			machine.On("HIGHLIGHT", machine.Effect(func(ctx machine.Context, event machine.Event) {
				ctx.Set("highlighted", event.Data)
			})),
		),
	)
	service := start(t, def)
	var seen []*machine.State
	service.Subscribe(func(state *machine.State) { seen = append(seen, state) })

	require.NoError(t, service.Send(machine.NewEvent("HIGHLIGHT", "item-2")))
	assert.Equal(t, 1, entered)
	require.Len(t, seen, 1)
	highlighted, _ := seen[0].Get("highlighted")
	assert.Equal(t, "item-2", highlighted)
	assert.True(t, seen[0].Changed)
}

func TestGuardsAreTriedInOrder(t *testing.T) {
	guard := func(result bool) machine.GuardFunc {
		return func(machine.Context, machine.Event) bool { return result }
	}
	t.Run("first passing guard wins", func(t *testing.T) {
		def := machine.Define("guards",
			machine.Initial("idle"),
			machine.State("idle",
				machine.On("GO", machine.Guard(guard(false)), machine.Target("first")),
				machine.On("GO", machine.Guard(guard(true)), machine.Target("second")),
			),
			machine.State("first"),
			machine.State("second"),
		)
		service := start(t, def)
		require.NoError(t, service.Send(machine.NewEvent("GO")))
		assert.Equal(t, "second", service.State().Value)
	})
	t.Run("declaration order breaks ties", func(t *testing.T) {
		def := machine.Define("guards",
			machine.Initial("idle"),
			machine.State("idle",
				machine.On("GO", machine.Guard(guard(true)), machine.Target("first")),
				machine.On("GO", machine.Guard(guard(true)), machine.Target("second")),
			),
			machine.State("first"),
			machine.State("second"),
		)
		service := start(t, def)
		require.NoError(t, service.Send(machine.NewEvent("GO")))
		assert.Equal(t, "first", service.State().Value)
	})
	t.Run("no passing guard is a no-op", func(t *testing.T) {
		def := machine.Define("guards",
			machine.Initial("idle"),
			machine.State("idle",
				machine.On("GO", machine.Guard(guard(false)), machine.Target("first")),
			),
			machine.State("first"),
		)
		service := start(t, def)
		notified := 0
		service.Subscribe(func(*machine.State) { notified++ })
		require.NoError(t, service.Send(machine.NewEvent("GO")))
		assert.Equal(t, "idle", service.State().Value)
		assert.Zero(t, notified)
	})
}

func TestRaisedEventsRunToCompletion(t *testing.T) {
	var order []string
	var service *machine.Service
	def := machine.Define("raise",
		machine.Initial("idle"),
		machine.State("idle",
			machine.On("X", machine.Target("busy"), machine.Effect(func(ctx machine.Context, event machine.Event) {
				order = append(order, "X")
				require.NoError(t, ctx.Send(machine.NewEvent("Y")))
				// an external send made while X is processed waits for X's cascade
				require.NoError(t, service.Send(machine.NewEvent("Z")))
			})),
		),
		machine.State("busy",
			machine.On("Y", machine.Target("done"), machine.Effect(func(ctx machine.Context, event machine.Event) {
				order = append(order, "Y")
				require.NoError(t, ctx.Send(machine.NewEvent("Y2")))
			})),
		),
		machine.State("done",
			machine.On("Y2", machine.Effect(func(machine.Context, machine.Event) {
				order = append(order, "Y2")
			})),
			machine.On("Z", machine.Target("idle"), machine.Effect(func(machine.Context, machine.Event) {
				order = append(order, "Z")
			})),
		),
	)
	service = start(t, def)
	var seen []string
	service.Subscribe(values(&seen))

	require.NoError(t, service.Send(machine.NewEvent("X")))
	assert.Equal(t, []string{"X", "Y", "Y2", "Z"}, order)
	assert.Equal(t, []string{"done", "idle"}, seen, "one notification per external event")
}

func TestRaiseDepthIsBounded(t *testing.T) {
	count := 0
	def := machine.Define("loop",
		machine.Initial("a"),
		machine.State("a",
			machine.On("PING", machine.Effect(func(ctx machine.Context, event machine.Event) {
				count++
				_ = ctx.Send(machine.NewEvent("PING"))
			})),
			machine.On("NEXT", machine.Target("b")),
		),
		machine.State("b"),
	)

	t.Run("default bound", func(t *testing.T) {
		count = 0
		service := start(t, def)
		err := service.Send(machine.NewEvent("PING"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, machine.ErrRaiseDepthExceeded))
		assert.Equal(t, machine.DefaultMaxRaiseDepth+1, count)
	})

	t.Run("configured bound", func(t *testing.T) {
		count = 0
		service := start(t, def, machine.Config{MaxRaiseDepth: 10})
		err := service.Send(machine.NewEvent("PING"))
		assert.True(t, errors.Is(err, machine.ErrRaiseDepthExceeded))
		assert.Equal(t, 11, count)

		// the service keeps working after the cascade is abandoned
		require.Equal(t, machine.Running, service.Status())
		require.NoError(t, service.Send(machine.NewEvent("NEXT")))
		assert.Equal(t, "b", service.State().Value)
	})
}

func TestStop(t *testing.T) {
	exits, cleanups := 0, 0
	def := machine.Define("stop",
		machine.Initial("open"),
		machine.State("open",
			machine.Exit(func(machine.Context, machine.Event) { exits++ }),
			machine.Activity(func(machine.Context, machine.Event) func() {
				return func() { cleanups++ }
			}),
			machine.On("CLOSE", machine.Target("closed")),
		),
		machine.State("closed"),
	)
	service, err := machine.New(def)
	require.NoError(t, err)
	require.NoError(t, service.Start())
	require.NoError(t, service.Start(), "starting twice is a no-op")

	stops := 0
	service.Subscribe(func(state *machine.State) {
		if state.Status == machine.Stopped {
			stops++
		}
	})
	require.NoError(t, service.Stop())
	require.NoError(t, service.Stop())
	assert.Equal(t, 1, exits)
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, 1, stops)
	assert.True(t, service.Stopped())

	assert.NotPanics(t, func() {
		assert.NoError(t, service.Send(machine.NewEvent("CLOSE")))
	})
	assert.Equal(t, "open", service.State().Value)
	assert.Equal(t, machine.Stopped, service.State().Status)

	err = service.Start()
	assert.True(t, errors.Is(err, machine.ErrStopped))
}

func TestStopBeforeStart(t *testing.T) {
	entered := 0
	def := machine.Define("lazy",
		machine.Initial("a"),
		machine.State("a", machine.Entry(func(machine.Context, machine.Event) { entered++ })),
	)
	service, err := machine.New(def)
	require.NoError(t, err)
	assert.NoError(t, service.Send(machine.NewEvent("IGNORED")))
	require.NoError(t, service.Stop())
	assert.Zero(t, entered)
	assert.Equal(t, machine.Stopped, service.Status())
}

func TestStopDuringProcessingIsDeferred(t *testing.T) {
	var order []string
	var service *machine.Service
	def := machine.Define("deferred",
		machine.Initial("open"),
		machine.State("open",
			machine.Exit(func(machine.Context, machine.Event) { order = append(order, "exit open") }),
			machine.On("QUIT", machine.Effect(func(ctx machine.Context, event machine.Event) {
				require.NoError(t, ctx.Stop())
				order = append(order, "quit")
				_ = ctx.Send(machine.NewEvent("RAISED"))
				_ = service.Send(machine.NewEvent("LATE"))
			})),
			machine.On("RAISED", machine.Effect(func(machine.Context, machine.Event) { order = append(order, "raised") })),
			machine.On("LATE", machine.Effect(func(machine.Context, machine.Event) { order = append(order, "late") })),
		),
	)
	service = start(t, def)
	require.NoError(t, service.Send(machine.NewEvent("QUIT")))
	assert.Equal(t, []string{"quit", "raised", "exit open"}, order)
	assert.True(t, service.Stopped())
}

func TestStopWaitsForProcessing(t *testing.T) {
	started, proceed := make(chan struct{}), make(chan struct{})
	cleanups := 0
	def := machine.Define("slow",
		machine.Initial("a"),
		machine.State("a",
			machine.On("SLOW", machine.Target("b"), machine.Effect(func(machine.Context, machine.Event) {
				close(started)
				<-proceed
			})),
		),
		machine.State("b",
			machine.Activity(func(machine.Context, machine.Event) func() {
				return func() { cleanups++ }
			}),
		),
	)
	service := start(t, def)

	sent := make(chan error, 1)
	go func() { sent <- service.Send(machine.NewEvent("SLOW")) }()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- service.Stop() }()
	select {
	case <-stopped:
		t.Fatal("Stop returned while an event was still being processed")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	require.NoError(t, <-stopped)
	assert.True(t, service.Stopped())
	assert.Equal(t, 1, cleanups, "the target's activity was started and cleaned up")
	assert.Equal(t, "b", service.State().Value)
	require.NoError(t, <-sent)
}

func TestStopFromSubscriberIsDeferred(t *testing.T) {
	def := machine.Define("subscriber",
		machine.Initial("a"),
		machine.State("a", machine.On("GO", machine.Target("b"))),
		machine.State("b", machine.On("BACK", machine.Target("a"))),
	)
	service := start(t, def)
	var stopErr error
	service.Subscribe(func(state *machine.State) {
		if state.Value == "b" && state.Status == machine.Running {
			stopErr = service.Stop()
			assert.False(t, service.Stopped(), "the stop waits for the notifications")
		}
	})
	require.NoError(t, service.Send(machine.NewEvent("GO")))
	assert.NoError(t, stopErr)
	assert.True(t, service.Stopped())
}

func TestInitKindIsReservedForStart(t *testing.T) {
	entered, exited := 0, 0
	def := machine.Define("init",
		machine.Initial("a"),
		machine.State("a",
			machine.Entry(func(machine.Context, machine.Event) { entered++ }),
			machine.On("GO", machine.Target("b")),
		),
		machine.State("b",
			machine.Exit(func(machine.Context, machine.Event) { exited++ }),
		),
	)
	service := start(t, def)
	require.NoError(t, service.Send(machine.NewEvent("GO")))

	require.NoError(t, service.Send(machine.Event{Type: machine.InitEvent, Kind: kinds.Init}))
	require.NoError(t, service.Send(machine.Event{Type: "GO", Kind: kinds.Init}))
	assert.Equal(t, "b", service.State().Value)
	assert.Equal(t, 1, entered, "the initial state is entered only by Start")
	assert.Zero(t, exited)
}

func TestContextChangesCollapse(t *testing.T) {
	var changes []store.Snapshot
	def := machine.Define("patch",
		machine.Initial("idle"),
		machine.Defaults(map[string]any{"a": 0, "b": 0, "c": 0}),
		machine.State("idle",
			machine.On("FILL", machine.Effect(
				func(ctx machine.Context, event machine.Event) { ctx.Set("a", 1) },
				func(ctx machine.Context, event machine.Event) {
					ctx.Set("b", 2)
					ctx.Patch(map[string]any{"c": 3})
				},
			)),
		),
	)
	service := start(t, def, machine.Config{
		Context:         map[string]any{"a": -1},
		OnContextChange: func(snapshot store.Snapshot) { changes = append(changes, snapshot) },
	})
	a, _ := service.State().Get("a")
	assert.Equal(t, -1, a, "instance context overrides the defaults")

	require.NoError(t, service.Send(machine.NewEvent("FILL")))
	require.Len(t, changes, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, changes[0].Map())

	require.NoError(t, service.Send(machine.NewEvent("FILL")))
	assert.Len(t, changes, 1, "equal values are not a change")
}

func TestReplayIsDeterministic(t *testing.T) {
	def := machine.Define("counter",
		machine.Initial("idle"),
		machine.Defaults(map[string]any{"count": 0}),
		machine.State("idle",
			machine.On("INC", machine.Target("counting"), machine.Effect(increment)),
		),
		machine.State("counting",
			machine.On("INC", machine.Effect(increment)),
			machine.On("RESET", machine.Target("idle"), machine.Effect(func(ctx machine.Context, event machine.Event) {
				ctx.Set("count", 0)
			})),
			machine.After(time.Second, machine.Target("idle")),
		),
	)
	run := func() []string {
		clk := clock.NewManual(time.Unix(0, 0))
		service := start(t, def, machine.Config{Clock: clk})
		var trace []string
		service.Subscribe(func(state *machine.State) {
			count, _ := state.Get("count")
			trace = append(trace, fmt.Sprintf("%s:%d", state.Value, count))
		})
		for _, eventType := range []string{"INC", "INC", "RESET", "INC", "UNKNOWN"} {
			require.NoError(t, service.Send(machine.NewEvent(eventType)))
		}
		clk.Advance(time.Second)
		return trace
	}
	first := run()
	assert.Equal(t, []string{"counting:1", "counting:2", "idle:0", "counting:1", "idle:1"}, first)
	assert.Equal(t, first, run())
}

func increment(ctx machine.Context, event machine.Event) {
	count, _ := ctx.Get("count")
	ctx.Set("count", count.(int)+1)
}

func TestConcurrentSends(t *testing.T) {
	def := machine.Define("counter",
		machine.Initial("idle"),
		machine.Defaults(map[string]any{"count": 0}),
		machine.State("idle", machine.On("INC", machine.Effect(increment))),
	)
	service := start(t, def)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, service.Send(machine.NewEvent("INC")))
			}
		}()
	}
	wg.Wait()
	count, _ := service.State().Get("count")
	assert.Equal(t, 800, count)
}

func TestCallbackPanics(t *testing.T) {
	t.Run("exit panic still cleans up and stays in the source", func(t *testing.T) {
		cleaned, effects, entered := 0, 0, 0
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a",
				machine.Activity(func(machine.Context, machine.Event) func() {
					return func() { cleaned++ }
				}),
				machine.Exit(func(machine.Context, machine.Event) { panic("boom") }),
				machine.On("GO", machine.Target("b"), machine.Effect(func(machine.Context, machine.Event) { effects++ })),
			),
			machine.State("b", machine.Entry(func(machine.Context, machine.Event) { entered++ })),
		)
		service := start(t, def)
		err := service.Send(machine.NewEvent("GO"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, 1, cleaned)
		assert.Zero(t, effects)
		assert.Zero(t, entered)
		assert.Equal(t, "a", service.State().Value)

		err = service.Stop()
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		assert.Equal(t, 1, cleaned, "cleanup runs exactly once")
		assert.True(t, service.Stopped())
	})

	t.Run("subscriber panic does not wedge the service", func(t *testing.T) {
		cleaned := 0
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a", machine.On("GO", machine.Target("b"))),
			machine.State("b",
				machine.Activity(func(machine.Context, machine.Event) func() {
					return func() { cleaned++ }
				}),
				machine.On("BACK", machine.Target("a")),
			),
		)
		service := start(t, def)
		panicked := false
		service.Subscribe(func(*machine.State) {
			if !panicked {
				panicked = true
				panic("render failed")
			}
		})
		var seen []string
		service.Subscribe(values(&seen))

		err := service.Send(machine.NewEvent("GO"))
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		assert.Contains(t, err.Error(), "render failed")
		assert.Equal(t, "b", service.State().Value)
		assert.Equal(t, []string{"b"}, seen, "other subscribers are still notified")

		require.NoError(t, service.Send(machine.NewEvent("BACK")))
		assert.Equal(t, "a", service.State().Value)
		require.NoError(t, service.Send(machine.NewEvent("GO")))
		require.NoError(t, service.Stop())
		assert.Equal(t, 2, cleaned)
		assert.True(t, service.Stopped())
	})

	t.Run("context change hook panic does not wedge the service", func(t *testing.T) {
		hooked := 0
		def := machine.Define("panics",
			machine.Initial("idle"),
			machine.Defaults(map[string]any{"count": 0}),
			machine.State("idle", machine.On("INC", machine.Effect(increment))),
		)
		service := start(t, def, machine.Config{
			OnContextChange: func(store.Snapshot) {
				hooked++
				if hooked == 1 {
					panic("hook failed")
				}
			},
		})
		err := service.Send(machine.NewEvent("INC"))
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		require.NoError(t, service.Send(machine.NewEvent("INC")))
		count, _ := service.State().Get("count")
		assert.Equal(t, 2, count)
		assert.Equal(t, 2, hooked)
		require.NoError(t, service.Stop())
	})

	t.Run("trace panic does not wedge the service", func(t *testing.T) {
		exploded := false
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a", machine.On("GO", machine.Target("b"))),
			machine.State("b"),
		)
		service := start(t, def, machine.Config{
			Trace: func(ctx context.Context, step string, names ...string) func(...any) {
				if step == "transition" && !exploded {
					exploded = true
					panic("tracer failed")
				}
				return func(...any) {}
			},
		})
		assert.PanicsWithValue(t, "tracer failed", func() { _ = service.Send(machine.NewEvent("GO")) })
		assert.Equal(t, "a", service.State().Value)

		require.NoError(t, service.Send(machine.NewEvent("GO")))
		assert.Equal(t, "b", service.State().Value)
		require.NoError(t, service.Stop())
		assert.True(t, service.Stopped())
	})

	t.Run("guard panic propagates", func(t *testing.T) {
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a", machine.On("GO",
				machine.Guard(func(machine.Context, machine.Event) bool { panic(errors.New("bad guard")) }),
				machine.Target("b"),
			)),
			machine.State("b"),
		)
		service := start(t, def)
		err := service.Send(machine.NewEvent("GO"))
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		assert.Equal(t, "a", service.State().Value)
	})

	t.Run("activity panic tears down what started", func(t *testing.T) {
		clk := clock.NewManual(time.Unix(0, 0))
		cleaned := 0
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a", machine.On("GO", machine.Target("b"))),
			machine.State("b",
				machine.Activity(
					func(machine.Context, machine.Event) func() { return func() { cleaned++ } },
					func(machine.Context, machine.Event) func() { panic("cannot listen") },
				),
				machine.After(time.Second, machine.Target("a")),
			),
		)
		service := start(t, def, machine.Config{Clock: clk})
		err := service.Send(machine.NewEvent("GO"))
		assert.True(t, errors.Is(err, machine.ErrCallbackPanic))
		assert.Equal(t, 1, cleaned)
		assert.Zero(t, clk.Pending())
		assert.Equal(t, "b", service.State().Value)
	})

	t.Run("remaining actions are skipped, later events still run", func(t *testing.T) {
		var ran []string
		def := machine.Define("panics",
			machine.Initial("a"),
			machine.State("a",
				machine.On("GO", machine.Effect(
					func(machine.Context, machine.Event) { ran = append(ran, "first") },
					func(machine.Context, machine.Event) { panic("second") },
					func(machine.Context, machine.Event) { ran = append(ran, "third") },
				)),
				machine.On("OK", machine.Effect(func(machine.Context, machine.Event) { ran = append(ran, "ok") })),
			),
		)
		service := start(t, def)
		assert.Error(t, service.Send(machine.NewEvent("GO")))
		require.NoError(t, service.Send(machine.NewEvent("OK")))
		assert.Equal(t, []string{"first", "ok"}, ran)
	})
}
