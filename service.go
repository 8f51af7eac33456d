package machine

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stateforward/go-machine/clock"
	"github.com/stateforward/go-machine/embedded"
	"github.com/stateforward/go-machine/kinds"
	"github.com/stateforward/go-machine/pkg/metrics"
	"github.com/stateforward/go-machine/pkg/telemetry"
	"github.com/stateforward/go-machine/queue"
	"github.com/stateforward/go-machine/registry"
	"github.com/stateforward/go-machine/store"
)

const (
	InitEvent = "machine.init"
	StopEvent = "machine.stop"

	DefaultMaxRaiseDepth = 100
)

// Trace is called around each step of processing and returns a func called
// when the step ends, with the step's error if any.
type Trace func(ctx context.Context, step string, names ...string) func(...any)

type Config struct {
	// ID addresses the service. A random UUID is used when empty.
	ID string
	// Context overrides the definition's default context for this instance.
	Context         map[string]any
	Implementations Implementations
	// OnContextChange receives the context once per processed event that
	// changed it.
	OnContextChange func(store.Snapshot)
	Logger          *slog.Logger
	Clock           clock.Clock
	Tracer          trace.Tracer
	Trace           Trace
	Metrics         *metrics.Collector
	// Registry, when set, makes the service addressable by ID until it stops.
	Registry      *registry.Registry
	MaxRaiseDepth int
}

type envelope struct {
	event  Event
	depth  int
	origin string
	// set only on the envelope pushed by Start
	init bool
	// timer events only
	epoch uint64
	delay *delay
	// queued context patches only
	patch map[string]any
}

// step collects the events raised while one event is processed.
type step struct {
	depth  int
	raised []envelope
	closed bool
}

type subscriber struct {
	id int
	fn func(*State)
}

// Service runs one instance of a Definition. Events are processed one at a
// time to completion: whichever goroutine finds the service idle drains the
// queue, and sends from anywhere else are queued behind it.
type Service struct {
	id      string
	chart   *chart
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock
	metrics *metrics.Collector
	store   *store.Store
	links   registry.Links
	base    context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	status        Status
	processing    bool
	stopRequested bool
	// settling is set while subscribers and context hooks run at the end of
	// a cascade
	settling       bool
	queue          *queue.Queue[envelope]
	subscribers    []subscriber
	nextSubscriber int

	// done is closed once the service has stopped; stopErr is final by then
	done    chan struct{}
	stopErr error

	current  atomic.Pointer[state]
	snapshot atomic.Pointer[State]

	// owned by the processing goroutine
	epoch      uint64
	timers     []timer
	activities []*running
	changed    bool
	last       Event
	hookErrs   error
}

var _ embedded.Handle = (*Service)(nil)

// New creates a service from definition. It fails with an error marked
// ErrInvalidDefinition if a target is undeclared or a name is not
// implemented, and with registry.ErrDuplicateID if the id is taken.
func New(definition *Definition, maybeConfig ...Config) (*Service, error) {
	config := Config{}
	if len(maybeConfig) > 0 {
		config = maybeConfig[0]
	}
	compiled, err := compile(definition, config.Implementations)
	if err != nil {
		return nil, err
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Make()
	}
	if config.Tracer == nil {
		config.Tracer = telemetry.NewProvider().Tracer("github.com/stateforward/go-machine")
	}
	if config.MaxRaiseDepth <= 0 {
		config.MaxRaiseDepth = DefaultMaxRaiseDepth
	}
	service := &Service{
		id:      config.ID,
		chart:   compiled,
		config:  config,
		logger:  config.Logger.With("machine", compiled.id, "id", config.ID),
		tracer:  config.Tracer,
		clock:   config.Clock,
		metrics: config.Metrics,
		store:   store.New(definition.Context, config.Context),
		queue:   queue.New[envelope](8),
		done:    make(chan struct{}),
	}
	service.base, service.cancel = context.WithCancel(context.Background())
	if hook := config.OnContextChange; hook != nil {
		service.store.Watch(func(snapshot store.Snapshot) {
			if err := safely("hook", "OnContextChange", func() { hook(snapshot) }); err != nil {
				service.logger.Error("context change hook panicked", "error", err)
				service.hookErrs = errors.CombineErrors(service.hookErrs, err)
			}
		})
	}
	service.publish(false)
	if config.Registry != nil {
		if err := config.Registry.Register(service); err != nil {
			return nil, err
		}
	}
	return service, nil
}

func (s *Service) Id() string {
	return s.id
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) Stopped() bool {
	return s.Status() == Stopped
}

// State returns the snapshot taken after the last completed event.
func (s *Service) State() *State {
	return s.snapshot.Load()
}

func (s *Service) Snapshot() embedded.View {
	return s.State()
}

// Links returns the parent and children this service knows about.
func (s *Service) Links() *registry.Links {
	return &s.links
}

// Subscribe calls fn with a new snapshot after every event that changed the
// state or context, and once more when the service stops.
func (s *Service) Subscribe(fn func(*State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Stopped {
		return func() {}
	}
	s.nextSubscriber++
	id := s.nextSubscriber
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers = slices.DeleteFunc(s.subscribers, func(sub subscriber) bool {
			return sub.id == id
		})
	}
}

// Start enters the initial state. Starting a running service does nothing;
// starting a stopped one fails with ErrStopped.
func (s *Service) Start() (err error) {
	s.mu.Lock()
	switch s.status {
	case Running:
		s.mu.Unlock()
		return nil
	case Stopped:
		s.mu.Unlock()
		return errors.Wrapf(ErrStopped, "starting %s", s.id)
	}
	s.status = Running
	s.processing = true
	s.queue.PushFront(envelope{event: Event{Type: InitEvent, Kind: kinds.Init}, init: true})
	s.mu.Unlock()

	ctx, span := s.span("machine.Start")
	defer func() { end(span, err) }()
	s.logger.Debug("starting", "initial", s.chart.initial.name)
	return s.drain(ctx)
}

// Send queues event. If no other event is being processed, the queue is
// drained before Send returns, and the errors of the events processed are
// returned. Sending to a service that is not running does nothing.
func (s *Service) Send(event Event) (err error) {
	if event.Kind == 0 {
		event.Kind = kinds.External
	}
	ctx, span := s.span("machine.Send", attribute.String("event.type", event.Type))
	defer func() { end(span, err) }()
	return s.enqueue(ctx, envelope{event: event})
}

// Stop exits the current state, which cancels its timers and cleans up its
// activities. Stopping is terminal and idempotent, and once Stop returns no
// callback of the service runs again.
//
// While another goroutine is processing an event, Stop waits for that
// event's cascade to complete and for the teardown that follows. Callbacks
// must use Context.Stop instead, since waiting on themselves never ends.
// From a subscriber or an OnContextChange hook, Stop is deferred until the
// notifications are done.
func (s *Service) Stop() (err error) {
	s.mu.Lock()
	switch {
	case s.status == Stopped:
		s.mu.Unlock()
		return nil
	case s.status == NotStarted:
		s.status = Stopped
		s.mu.Unlock()
		s.cancel()
		return s.finish(nil)
	case s.processing:
		s.stopRequested = true
		settling := s.settling
		s.mu.Unlock()
		if settling {
			return nil
		}
		<-s.done
		return s.stopErr
	}
	s.processing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()
	ctx, span := s.span("machine.Stop")
	defer func() { end(span, err) }()
	return s.teardown(ctx)
}

func (s *Service) enqueue(ctx context.Context, env envelope) error {
	s.mu.Lock()
	if s.status != Running {
		s.mu.Unlock()
		return nil
	}
	s.queue.Push(env)
	if s.processing {
		s.mu.Unlock()
		return nil
	}
	s.processing = true
	s.mu.Unlock()
	return s.drain(ctx)
}

// raise queues event ahead of everything already queued, as part of the
// cascade of the event being processed. Once that event is done, raising
// falls back to an ordinary send.
func (s *Service) raise(step *step, origin string, event Event) error {
	s.mu.Lock()
	if step == nil || step.closed {
		s.mu.Unlock()
		return s.Send(event)
	}
	if event.Kind == 0 {
		event.Kind = kinds.Raised
	}
	step.raised = append(step.raised, envelope{event: event, depth: step.depth + 1, origin: origin})
	s.mu.Unlock()
	return nil
}

func (s *Service) within(step *step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return step != nil && !step.closed
}

func (s *Service) seal(step *step) []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.closed = true
	raised := step.raised
	step.raised = nil
	return raised
}

// requestStop stops the service once the cascade being processed
// completes, or right away when nothing is being processed.
func (s *Service) requestStop() error {
	s.mu.Lock()
	if s.processing && s.status == Running {
		s.stopRequested = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Stop()
}

// settle runs fn with stop requests deferred rather than awaited. It wraps
// the callbacks that run on the processing goroutine without a Context.
func (s *Service) settle(fn func()) {
	s.mu.Lock()
	s.settling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.settling = false
		s.mu.Unlock()
	}()
	fn()
}

func (s *Service) hooks() error {
	err := s.hookErrs
	s.hookErrs = nil
	return err
}

// drain processes queued events until the queue is empty. The caller must
// have set processing.
func (s *Service) drain(ctx context.Context) error {
	var (
		errs    error
		release func()
		version uint64
		started = s.clock.Now()
	)
	// a panic escaping a Trace hook must not leave the service processing
	// forever
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.logger.Error("processing panicked", "panic", r)
		if release != nil {
			release()
		}
		s.mu.Lock()
		stop := s.stopRequested
		if !stop {
			s.processing = false
		}
		s.mu.Unlock()
		if stop {
			_ = s.teardown(ctx)
			s.mu.Lock()
			s.processing = false
			s.mu.Unlock()
		}
		panic(r)
	}()
	for {
		s.mu.Lock()
		if s.stopRequested && release == nil {
			s.mu.Unlock()
			errs = errors.CombineErrors(errs, s.teardown(ctx))
			s.mu.Lock()
			s.processing = false
			s.mu.Unlock()
			return errs
		}
		env, ok := s.queue.Pop()
		if !ok || s.status != Running {
			s.processing = false
			s.mu.Unlock()
			return errs
		}
		s.mu.Unlock()

		if release == nil {
			release = s.store.Hold()
			version = s.store.Snapshot().Version()
			started = s.clock.Now()
			s.changed = false
		}
		raised, err := s.process(ctx, env)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			s.abandon()
		} else if len(raised) > 0 {
			if env.depth+1 > s.config.MaxRaiseDepth {
				err := errors.Wrapf(ErrRaiseDepthExceeded, "event %q raised by %q at depth %d", raised[0].event.Type, raised[0].origin, env.depth+1)
				s.logger.Error("raise depth exceeded, abandoning cascade",
					"event", raised[0].event.Type,
					"origin", raised[0].origin,
					"kind", kinds.Name(raised[0].event.Kind),
					"depth", env.depth+1,
				)
				s.metrics.Overflow(s.chart.id)
				errs = errors.CombineErrors(errs, err)
				s.abandon()
			} else {
				s.mu.Lock()
				s.queue.PushFront(raised...)
				s.mu.Unlock()
			}
		}

		s.mu.Lock()
		next, ok := s.queue.Peek()
		s.mu.Unlock()
		if ok && next.depth > 0 {
			continue
		}
		changed := s.changed || s.store.Snapshot().Version() != version
		s.settle(func() {
			release()
			release = nil
			errs = errors.CombineErrors(errs, s.notify(changed))
		})
		errs = errors.CombineErrors(errs, s.hooks())
		s.metrics.Observe(s.chart.id, s.clock.Now().Sub(started))
	}
}

// abandon drops the raised events left in the current cascade.
func (s *Service) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.DropFront(func(env envelope) bool { return env.depth > 0 })
}

func (s *Service) process(ctx context.Context, env envelope) ([]envelope, error) {
	step := &step{depth: env.depth}
	err := s.handle(ctx, step, env)
	return s.seal(step), err
}

func (s *Service) handle(ctx context.Context, step *step, env envelope) error {
	if env.patch != nil {
		if s.store.Patch(env.patch) {
			s.changed = true
		}
		return nil
	}
	event := env.event
	if env.init {
		s.last = event
		return s.enter(ctx, step, s.chart.initial, event)
	}
	current := s.current.Load()
	if current == nil {
		return nil
	}
	var candidates []*transition
	if env.delay != nil {
		if env.epoch != s.epoch {
			s.logger.Debug("dropping stale timer", "event", event.Type, "state", current.name)
			s.metrics.Timer(s.chart.id, "stale")
			s.metrics.Event(s.chart.id, metrics.Dropped)
			return nil
		}
		s.metrics.Timer(s.chart.id, "fired")
		candidates = env.delay.transitions
	} else {
		s.link(&event)
		candidates = current.on[event.Type]
	}
	s.last = event
	if len(candidates) == 0 {
		s.logger.Debug("ignoring event", "event", event.Type, "state", current.name)
		s.metrics.Event(s.chart.id, metrics.Ignored)
		return nil
	}
	selected, err := s.enabled(ctx, step, candidates, event)
	if err != nil {
		s.metrics.Event(s.chart.id, metrics.Failed)
		return err
	}
	if selected == nil {
		s.logger.Debug("no transition enabled", "event", event.Type, "state", current.name)
		s.metrics.Event(s.chart.id, metrics.Ignored)
		return nil
	}
	if err := s.transition(ctx, step, current, selected, event); err != nil {
		s.metrics.Event(s.chart.id, metrics.Failed)
		return err
	}
	s.metrics.Event(s.chart.id, metrics.Transitioned)
	return nil
}

func (s *Service) teardown(ctx context.Context) error {
	release := s.store.Hold()
	var err error
	if current := s.current.Load(); current != nil {
		step := &step{}
		err = s.exit(ctx, step, current, Event{Type: StopEvent, Kind: kinds.External})
		s.seal(step)
	}
	s.settle(release)
	err = errors.CombineErrors(err, s.hooks())
	s.mu.Lock()
	s.status = Stopped
	s.stopRequested = false
	s.queue.Clear()
	s.mu.Unlock()
	s.cancel()
	s.logger.Debug("stopped")
	return s.finish(err)
}

// finish releases the associations of a stopped service, tells subscribers
// it stopped and wakes any Stop waiting on it.
func (s *Service) finish(err error) error {
	if s.config.Registry != nil {
		s.config.Registry.Unregister(s.id)
	}
	s.links.Clear()
	err = errors.CombineErrors(err, s.notify(true))
	s.mu.Lock()
	s.subscribers = nil
	s.mu.Unlock()
	s.stopErr = err
	close(s.done)
	return err
}

func (s *Service) publish(changed bool) *State {
	snapshot := &State{
		Context: s.store.Snapshot(),
		Status:  s.Status(),
		Changed: changed,
		Event:   s.last,
	}
	if current := s.current.Load(); current != nil {
		snapshot.Value = current.name
		snapshot.Tags = current.tags
	}
	s.snapshot.Store(snapshot)
	return snapshot
}

// notify publishes a snapshot and, if anything changed, hands it to every
// subscriber. A panicking subscriber does not keep the others from it.
func (s *Service) notify(changed bool) error {
	snapshot := s.publish(changed)
	if !changed {
		return nil
	}
	s.mu.Lock()
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()
	var err error
	for _, sub := range subscribers {
		if subErr := safely("subscriber", strconv.Itoa(sub.id), func() { sub.fn(snapshot) }); subErr != nil {
			s.logger.Error("subscriber panicked", "subscriber", sub.id, "error", subErr)
			err = errors.CombineErrors(err, subErr)
		}
	}
	return err
}

func (s *Service) span(name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	attributes = append(attributes,
		attribute.String("machine.id", s.chart.id),
		attribute.String("machine.instance", s.id),
	)
	return s.tracer.Start(s.base, name, trace.WithAttributes(attributes...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) traced(ctx context.Context, step string, names ...string) func(...any) {
	if s.config.Trace == nil {
		return func(...any) {}
	}
	return s.config.Trace(ctx, step, names...)
}
