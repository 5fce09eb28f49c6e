// Package coordinfo turns map clicks into grouped feature-info results.
//
// One event-loop goroutine per Aggregator owns the click token and the state.
// Clicks and network completions are both events on that loop, so state is
// only ever written from one goroutine, and a completion whose token is no
// longer current is dropped before it can commit.
package coordinfo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/aggregate"
	"github.com/mohammed-shakir/coordinate-info/internal/batch"
	"github.com/mohammed-shakir/coordinate-info/internal/clicksource"
	"github.com/mohammed-shakir/coordinate-info/internal/core/executor"
	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/core/observability"
	"github.com/mohammed-shakir/coordinate-info/internal/layerfilter"
	"github.com/mohammed-shakir/coordinate-info/internal/logger"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

var (
	ErrInactive      = errors.New("aggregator is not active")
	ErrAlreadyActive = errors.New("aggregator is already active")
)

// Listener receives a private deep copy of the state after every commit. It
// runs synchronously on the event loop; it may call HandleClick, which never
// blocks, but must not call Deactivate.
type Listener func(model.State)

// Settlement describes a click that committed successfully.
type Settlement struct {
	Token    uint64
	Click    model.ClickEvent
	Features model.FeatureGroups
	Duration time.Duration
}

type Deps struct {
	Engine    mapengine.Engine
	Source    clicksource.Source // optional; HandleClick can be called directly
	Executor  executor.Interface
	Aggregate aggregate.Interface
	Logger    *slog.Logger
	// OnSettled runs on the event loop after a successful commit. Keep it
	// non-blocking and do not call back into the Aggregator from it.
	OnSettled func(ctx context.Context, s Settlement)
}

type Aggregator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	loop   *loop
	unsub  func()

	// owned by the event loop
	token uint64

	stateMu  sync.RWMutex
	state    model.State
	listener Listener
}

// loop is one activation of the event loop
type loop struct {
	ctx      context.Context
	cancel   context.CancelFunc
	box      *mailbox
	done     chan struct{}
	inflight sync.WaitGroup
}

type event struct {
	click *model.ClickEvent
	done  *completion
}

type completion struct {
	token    uint64
	click    model.ClickEvent
	features model.FeatureGroups
	err      error
	started  time.Time
}

func New(deps Deps, cfg Config) *Aggregator {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Aggregator{
		deps:   deps,
		cfg:    cfg.normalize(),
		logger: l.With("component", "coordinfo"),
		state:  model.State{Features: model.FeatureGroups{}},
	}
}

func (a *Aggregator) Config() Config { return a.cfg }

// SetListener replaces the render callback; nil installs a no-op.
func (a *Aggregator) SetListener(l Listener) {
	a.stateMu.Lock()
	a.listener = l
	a.stateMu.Unlock()
}

// State returns a deep copy of the current state.
func (a *Aggregator) State() model.State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state.Clone()
}

func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Activate starts the event loop and subscribes to the click source. The
// aggregator runs until Deactivate or until ctx is done.
func (a *Aggregator) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return ErrAlreadyActive
	}
	l := &loop{box: newMailbox(), done: make(chan struct{})}
	l.ctx, l.cancel = context.WithCancel(ctx)
	a.loop = l
	a.active = true
	go a.run(l)

	if a.deps.Source != nil {
		a.unsub = a.deps.Source.Subscribe(func(ev model.ClickEvent) {
			if err := a.HandleClick(ev); err != nil {
				a.logger.Debug("click dropped", "err", err)
			}
		})
	}
	a.logger.Info("aggregator activated",
		"query_layers", len(a.cfg.QueryLayers),
		"drill_down", a.cfg.DrillDown,
		"feature_count", a.cfg.FeatureCount)
	return nil
}

// Deactivate unsubscribes, stops the loop and waits for in-flight clicks to
// return. Safe to call more than once.
func (a *Aggregator) Deactivate() {
	a.mu.Lock()
	l := a.loop
	a.mu.Unlock()
	if l != nil {
		a.stop(l)
	}
}

// stop tears down l if it is still the active loop. It also runs when the
// context passed to Activate is cancelled.
func (a *Aggregator) stop(l *loop) {
	a.mu.Lock()
	if !a.active || a.loop != l {
		a.mu.Unlock()
		return
	}
	a.active = false
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
	l.cancel()
	l.box.close()
	a.mu.Unlock()

	<-l.done
	l.inflight.Wait()

	// an abandoned click never settles
	a.stateMu.Lock()
	wasLoading := a.state.Loading
	a.state.Loading = false
	a.stateMu.Unlock()
	if wasLoading {
		a.notify()
	}
	a.logger.Info("aggregator deactivated")
}

// HandleClick queues a click. Missing resolution or projection are taken from
// the engine's current view at this moment.
func (a *Aggregator) HandleClick(ev model.ClickEvent) error {
	if a.deps.Engine != nil && (ev.Resolution <= 0 || ev.Projection == "") {
		v := a.deps.Engine.View()
		if ev.Resolution <= 0 {
			ev.Resolution = v.Resolution
		}
		if ev.Projection == "" {
			ev.Projection = v.Projection
		}
	}

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return ErrInactive
	}
	l := a.loop
	a.mu.Unlock()

	if l.ctx.Err() != nil || !l.box.post(event{click: &ev}) {
		return ErrInactive
	}
	return nil
}

func (a *Aggregator) run(l *loop) {
	defer func() {
		close(l.done)
		// no-op after Deactivate; tears down when the parent ctx ended
		a.stop(l)
	}()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.box.wake:
			for _, ev := range l.box.take() {
				if l.ctx.Err() != nil {
					return
				}
				switch {
				case ev.click != nil:
					a.onClick(l, *ev.click)
				case ev.done != nil:
					a.onCompletion(l, ev.done)
				}
			}
		}
	}
}

func (a *Aggregator) onClick(l *loop, click model.ClickEvent) {
	a.token++
	token := a.token
	observability.IncClick()

	a.stateMu.Lock()
	a.state.Loading = true
	a.stateMu.Unlock()
	a.notify()

	cctx := logger.WithClickToken(l.ctx, token)
	layers := a.hitLayers(click.Pixel)
	reqs := batch.Build(a.logger, click, layers, batch.Options{
		FeatureCount: a.cfg.FeatureCount,
		DrillDown:    a.cfg.DrillDown,
	})
	a.logger.DebugContext(cctx, "click received",
		"coordinate", click.Coordinate.String(),
		"hit_layers", len(layers),
		"requests", len(reqs))

	c := &completion{token: token, click: click, started: time.Now()}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		c.features, c.err = a.fetch(cctx, reqs)
		l.box.post(event{done: c})
	}()
}

func (a *Aggregator) hitLayers(p model.Pixel) []*mapengine.Layer {
	if a.deps.Engine == nil {
		return nil
	}
	return a.deps.Engine.LayersAtPixel(p, layerfilter.Filter(a.cfg.QueryLayers), a.cfg.HitTolerance)
}

// fetch runs off the loop; the groups it builds belong to this click only.
func (a *Aggregator) fetch(ctx context.Context, reqs []batch.Request) (model.FeatureGroups, error) {
	if len(reqs) == 0 {
		return model.FeatureGroups{}, nil
	}
	payloads, err := a.deps.Executor.Execute(ctx, reqs)
	if err != nil {
		return nil, err
	}
	return a.deps.Aggregate.Aggregate(payloads)
}

func (a *Aggregator) onCompletion(l *loop, c *completion) {
	cctx := logger.WithClickToken(l.ctx, c.token)
	dur := time.Since(c.started)

	if c.token != a.token {
		observability.ObserveClickSettled(observability.OutcomeStale, dur.Seconds())
		a.logger.DebugContext(cctx, "stale click result dropped", "current_token", a.token)
		return
	}

	if c.err != nil {
		observability.ObserveClickSettled(observability.OutcomeError, dur.Seconds())
		a.logger.ErrorContext(cctx, "feature info aggregation failed", "err", c.err)
		a.stateMu.Lock()
		a.state.Loading = false
		a.stateMu.Unlock()
		a.notify()
		return
	}

	coord := c.click.Coordinate
	a.stateMu.Lock()
	a.state = model.State{ClickCoordinate: &coord, Features: c.features, Loading: false}
	a.stateMu.Unlock()
	a.notify()

	observability.ObserveClickSettled(observability.OutcomeOK, dur.Seconds())
	observability.ObserveFeaturesPerClick(c.features.Count())
	a.logger.DebugContext(cctx, "click settled",
		"features", c.features.Count(),
		"type_names", c.features.TypeNames(),
		"duration", dur.String())

	if a.deps.OnSettled != nil {
		a.deps.OnSettled(cctx, Settlement{
			Token:    c.token,
			Click:    c.click,
			Features: c.features.Clone(),
			Duration: dur,
		})
	}
}

func (a *Aggregator) notify() {
	a.stateMu.RLock()
	fn := a.listener
	var snap model.State
	if fn != nil {
		snap = a.state.Clone()
	}
	a.stateMu.RUnlock()
	if fn != nil {
		fn(snap)
	}
}
