package machine_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	machine "github.com/stateforward/go-machine"
	"github.com/stateforward/go-machine/pkg/metrics"
	"github.com/stateforward/go-machine/pkg/telemetry"
)

func toggle() *machine.Definition {
	return machine.Define("toggle",
		machine.Initial("off"),
		machine.State("off", machine.On("TOGGLE", machine.Target("on"))),
		machine.State("on",
			machine.On("TOGGLE", machine.Target("off")),
			machine.On("BREAK", machine.Effect(func(machine.Context, machine.Event) { panic("broken") })),
		),
	)
}

func TestSpans(t *testing.T) {
	recorder := telemetry.NewRecorder()
	service := start(t, toggle(), machine.Config{ID: "switch", Tracer: recorder})

	require.Len(t, recorder.Named("machine.Start"), 1)
	require.NoError(t, service.Send(machine.NewEvent("TOGGLE")))
	require.NoError(t, service.Send(machine.NewEvent("UNKNOWN")))

	sends := recorder.Named("machine.Send")
	require.Len(t, sends, 2)
	eventType, ok := sends[0].Attribute("event.type")
	require.True(t, ok)
	assert.Equal(t, "TOGGLE", eventType.AsString())
	instance, _ := sends[0].Attribute("machine.instance")
	assert.Equal(t, "switch", instance.AsString())
	assert.Equal(t, []string{"transition"}, sends[0].Events)
	assert.Empty(t, sends[1].Events, "ignored events take no transition")

	require.Error(t, service.Send(machine.NewEvent("BREAK")))
	failed := recorder.Named("machine.Send")[2]
	assert.Equal(t, codes.Error, failed.Status)
	assert.Len(t, failed.Errors, 1)
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	service := start(t, toggle(), machine.Config{Metrics: metrics.New(registry)})

	require.NoError(t, service.Send(machine.NewEvent("TOGGLE")))
	require.NoError(t, service.Send(machine.NewEvent("UNKNOWN")))
	require.NoError(t, service.Send(machine.NewEvent("TOGGLE")))
	require.NoError(t, service.Send(machine.NewEvent("TOGGLE")))
	require.Error(t, service.Send(machine.NewEvent("BREAK")))

	expected := `
# HELP machine_events_total A count of processed events by outcome.
# TYPE machine_events_total counter
machine_events_total{machine="toggle",outcome="failed"} 1
machine_events_total{machine="toggle",outcome="ignored"} 1
machine_events_total{machine="toggle",outcome="transitioned"} 3
# HELP machine_transitions_total A count of transitions taken, by source and target state.
# TYPE machine_transitions_total counter
machine_transitions_total{from="off",machine="toggle",to="on"} 2
machine_transitions_total{from="on",machine="toggle",to="off"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"machine_events_total", "machine_transitions_total"))
}

func TestLogging(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	service := start(t, toggle(), machine.Config{ID: "switch", Logger: logger})
	require.NoError(t, service.Send(machine.NewEvent("TOGGLE")))
	require.Error(t, service.Send(machine.NewEvent("BREAK")))

	logs := out.String()
	assert.Contains(t, logs, `"msg":"transition"`)
	assert.Contains(t, logs, `"id":"switch"`)
	assert.Contains(t, logs, `"msg":"action panicked"`)
	assert.Contains(t, logs, `"event":"BREAK"`)
}
