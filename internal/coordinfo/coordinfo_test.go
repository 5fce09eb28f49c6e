package coordinfo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/aggregate/featureinfo"
	"github.com/mohammed-shakir/coordinate-info/internal/batch"
	"github.com/mohammed-shakir/coordinate-info/internal/clicksource"
	"github.com/mohammed-shakir/coordinate-info/internal/core/executor"
	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/core/ogc"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

const waitTimeout = 3 * time.Second

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// signals every record whose message matches
type msgHandler struct {
	slog.Handler
	msg string
	hit chan struct{}
}

func (h *msgHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *msgHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.hit <- struct{}{}
	}
	return nil
}

func (h *msgHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func newEngine(layers ...*mapengine.Layer) *mapengine.Static {
	return mapengine.NewStatic(mapengine.StaticView{
		Center:     model.Coordinate{X: 1000, Y: 2000},
		Resolution: 10,
		Projection: model.EPSG3857,
		Width:      100,
		Height:     100,
	}, layers)
}

func clickAt(e mapengine.Engine, x, y float64) model.ClickEvent {
	p := model.Pixel{X: x, Y: y}
	return model.ClickEvent{Pixel: p, Coordinate: e.CoordinateFromPixel(p)}
}

func imageLayer(endpoint, name string) *mapengine.Layer {
	return &mapengine.Layer{
		Name:    name,
		Visible: true,
		Source:  &ogc.ImageWMS{URL: endpoint, Params: url.Values{"LAYERS": {name}}},
	}
}

func fcJSON(ids ...string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = `{"type":"Feature","id":"` + id + `","geometry":{"type":"Point","coordinates":[1000,2000]},"properties":{"src":"` + id + `"}}`
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(parts, ",") + `]}`
}

// featureServer answers every GetFeatureInfo with body and records queries
type featureServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []url.Values
}

func newFeatureServer(t *testing.T, status int, body string) *featureServer {
	t.Helper()
	fs := &featureServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.queries = append(fs.queries, r.URL.Query())
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *featureServer) calls() []url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]url.Values(nil), fs.queries...)
}

type harness struct {
	agg    *Aggregator
	states chan model.State
}

func start(t *testing.T, deps Deps, cfg Config) *harness {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = discard()
	}
	if deps.Aggregate == nil {
		deps.Aggregate = featureinfo.New(discard())
	}
	h := &harness{agg: New(deps, cfg), states: make(chan model.State, 128)}
	h.agg.SetListener(func(s model.State) { h.states <- s })
	if err := h.agg.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(h.agg.Deactivate)
	return h
}

func (h *harness) waitSettled(t *testing.T) model.State {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if !s.Loading {
				return s
			}
		case <-timeout:
			t.Fatalf("click never settled")
		}
	}
}

func realExecutor() *executor.Executor {
	return executor.New(discard(), &http.Client{Timeout: 2 * time.Second}, executor.Options{MaxWorkers: 4})
}

func TestScenario_OnlyAllowedWMSLayerQueried(t *testing.T) {
	srv := newFeatureServer(t, http.StatusOK, fcJSON("roads.1"))

	a := imageLayer(srv.URL+"/ows", "demo:roads")
	b := &mapengine.Layer{Name: "tiles", Visible: true,
		Source: &ogc.TileWMS{URL: srv.URL + "/gwc", Params: url.Values{"LAYERS": {"demo:tiles"}}}}
	c := &mapengine.Layer{Name: "vector", Visible: true, Source: mapengine.VectorSource{}}
	eng := newEngine(c, b, a) // bottom to top: hit order is a, b, c

	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{a, c}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	click := clickAt(eng, 50, 50)
	if err := h.agg.HandleClick(click); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	st := h.waitSettled(t)

	calls := srv.calls()
	if len(calls) != 1 || calls[0].Get("QUERY_LAYERS") != "demo:roads" {
		t.Fatalf("want exactly one query for layer A, got %v", calls)
	}
	if st.ClickCoordinate == nil || *st.ClickCoordinate != click.Coordinate {
		t.Fatalf("clickCoordinate=%v want %v", st.ClickCoordinate, click.Coordinate)
	}
	if len(st.Features) != 1 || len(st.Features["roads"]) != 1 || st.Features["roads"][0].ID != "roads.1" {
		t.Fatalf("features=%v", st.Features)
	}
}

func TestScenario_SharedEndpointOneNetworkCall(t *testing.T) {
	srv := newFeatureServer(t, http.StatusOK, fcJSON("roads.1", "rivers.9"))

	roads := imageLayer(srv.URL+"/ows", "demo:roads")
	rivers := imageLayer(srv.URL+"/ows", "demo:rivers")
	eng := newEngine(roads, rivers)

	cfg := DefaultConfig()
	cfg.FeatureCount = 3
	cfg.QueryLayers = []*mapengine.Layer{roads, rivers}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	st := h.waitSettled(t)

	calls := srv.calls()
	if len(calls) != 1 {
		t.Fatalf("network calls=%d want 1", len(calls))
	}
	q := calls[0]
	if q.Get("FEATURE_COUNT") != "3" || q.Get("INFO_FORMAT") != "application/json" {
		t.Fatalf("fixed params=%v", q)
	}
	// hit order is top-most first
	if q.Get("QUERY_LAYERS") != "demo:rivers,demo:roads" {
		t.Fatalf("QUERY_LAYERS=%q", q.Get("QUERY_LAYERS"))
	}
	if got := st.Features.TypeNames(); len(got) != 2 || got[0] != "rivers" || got[1] != "roads" {
		t.Fatalf("type names=%v", got)
	}
}

func TestDrillDownOff_OnlyTopLayer(t *testing.T) {
	top := newFeatureServer(t, http.StatusOK, fcJSON("top.1"))
	below := newFeatureServer(t, http.StatusOK, fcJSON("below.1"))

	lb := imageLayer(below.URL+"/ows", "below")
	lt := imageLayer(top.URL+"/ows", "top")
	eng := newEngine(lb, lt)

	cfg := DefaultConfig()
	cfg.DrillDown = false
	cfg.QueryLayers = []*mapengine.Layer{lb, lt}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	st := h.waitSettled(t)

	if len(top.calls()) != 1 || len(below.calls()) != 0 {
		t.Fatalf("top calls=%d below calls=%d", len(top.calls()), len(below.calls()))
	}
	if _, ok := st.Features["top"]; !ok || len(st.Features) != 1 {
		t.Fatalf("features=%v", st.Features)
	}
}

func TestFailFast_NoPartialCommitAndPriorStateKept(t *testing.T) {
	good := newFeatureServer(t, http.StatusOK, fcJSON("roads.1"))

	var failing atomic.Bool
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(fcJSON("rivers.1")))
	}))
	t.Cleanup(flaky.Close)

	lg := imageLayer(good.URL+"/ows", "good")
	lf := imageLayer(flaky.URL+"/ows", "flaky")
	eng := newEngine(lg, lf)

	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{lg, lf}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	first := clickAt(eng, 50, 50)
	_ = h.agg.HandleClick(first)
	prior := h.waitSettled(t)
	if prior.Features.Count() != 2 {
		t.Fatalf("prior features=%v", prior.Features)
	}

	failing.Store(true)
	_ = h.agg.HandleClick(clickAt(eng, 60, 60))
	st := h.waitSettled(t)

	if st.ClickCoordinate == nil || *st.ClickCoordinate != first.Coordinate {
		t.Fatalf("coordinate changed on failure: %v", st.ClickCoordinate)
	}
	if st.Features.Count() != 2 || st.Features["roads"][0].ID != "roads.1" || st.Features["rivers"][0].ID != "rivers.1" {
		t.Fatalf("features changed on failure: %v", st.Features)
	}
}

func TestParseError_FailsClick(t *testing.T) {
	srv := newFeatureServer(t, http.StatusOK, "<ServiceExceptionReport/>")
	l := imageLayer(srv.URL+"/ows", "x")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	st := h.waitSettled(t)
	if st.ClickCoordinate != nil || st.Features.Count() != 0 {
		t.Fatalf("state committed despite parse error: %+v", st)
	}
}

// gatedExecutor blocks every Execute call until the test releases it
type gatedExecutor struct {
	started chan chan gateResult
}

type gateResult struct {
	payloads [][]byte
	err      error
}

func (g *gatedExecutor) Execute(ctx context.Context, _ []batch.Request) ([][]byte, error) {
	gate := make(chan gateResult, 1)
	g.started <- gate
	select {
	case r := <-gate:
		return r.payloads, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStaleness_LaterClickWinsRegardlessOfCompletionOrder(t *testing.T) {
	for _, firstFails := range []bool{false, true} {
		l := imageLayer("http://gs.invalid/ows", "demo:any")
		eng := newEngine(l)
		cfg := DefaultConfig()
		cfg.QueryLayers = []*mapengine.Layer{l}

		stale := &msgHandler{msg: "stale click result dropped", hit: make(chan struct{}, 4)}
		exec := &gatedExecutor{started: make(chan chan gateResult, 4)}
		h := start(t, Deps{Engine: eng, Executor: exec, Logger: slog.New(stale)}, cfg)

		c1 := clickAt(eng, 10, 10)
		c2 := clickAt(eng, 90, 90)
		_ = h.agg.HandleClick(c1)
		gate1 := <-exec.started
		_ = h.agg.HandleClick(c2)
		gate2 := <-exec.started

		gate2 <- gateResult{payloads: [][]byte{[]byte(fcJSON("second.1"))}}
		st := h.waitSettled(t)
		if *st.ClickCoordinate != c2.Coordinate {
			t.Fatalf("coordinate=%v want second click", st.ClickCoordinate)
		}

		if firstFails {
			gate1 <- gateResult{err: errors.New("late failure")}
		} else {
			gate1 <- gateResult{payloads: [][]byte{[]byte(fcJSON("first.1"))}}
		}
		select {
		case <-stale.hit:
		case <-time.After(waitTimeout):
			t.Fatalf("stale completion never processed")
		}

		got := h.agg.State()
		if *got.ClickCoordinate != c2.Coordinate || len(got.Features["second"]) != 1 || len(got.Features) != 1 {
			t.Fatalf("stale result leaked into state: %+v", got)
		}
		h.agg.Deactivate()
	}
}

func TestLoadingTransitions(t *testing.T) {
	l := imageLayer("http://gs.invalid/ows", "demo:any")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}
	exec := &gatedExecutor{started: make(chan chan gateResult, 1)}
	h := start(t, Deps{Engine: eng, Executor: exec}, cfg)

	if st := h.agg.State(); st.Loading || st.ClickCoordinate != nil || st.Features == nil {
		t.Fatalf("initial state=%+v", st)
	}

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	select {
	case s := <-h.states:
		if !s.Loading {
			t.Fatalf("first notification should be loading")
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no loading notification")
	}
	gate := <-exec.started
	if !h.agg.State().Loading {
		t.Fatalf("State() should report loading while in flight")
	}
	gate <- gateResult{payloads: [][]byte{[]byte(fcJSON("a.1"))}}
	if st := h.waitSettled(t); st.Features.Count() != 1 {
		t.Fatalf("features=%v", st.Features)
	}
}

func TestNoHitLayers_SettlesWithEmptyFeatures(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(context.Context, []batch.Request) ([][]byte, error) {
		calls.Add(1)
		return nil, nil
	})
	eng := newEngine()
	h := start(t, Deps{Engine: eng, Executor: exec}, DefaultConfig())

	click := clickAt(eng, 50, 50)
	_ = h.agg.HandleClick(click)
	st := h.waitSettled(t)
	if calls.Load() != 0 {
		t.Fatalf("executor called without requests")
	}
	if st.ClickCoordinate == nil || *st.ClickCoordinate != click.Coordinate || st.Features.Count() != 0 {
		t.Fatalf("state=%+v", st)
	}
}

type executorFunc func(context.Context, []batch.Request) ([][]byte, error)

func (f executorFunc) Execute(ctx context.Context, r []batch.Request) ([][]byte, error) {
	return f(ctx, r)
}

func TestListenerGetsDeepCopy(t *testing.T) {
	srv := newFeatureServer(t, http.StatusOK, fcJSON("roads.1"))
	l := imageLayer(srv.URL+"/ows", "demo:roads")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}
	h := start(t, Deps{Engine: eng, Executor: realExecutor()}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	st := h.waitSettled(t)

	st.Features["roads"][0].Properties["src"] = "mutated"
	st.Features["evil"] = nil
	st.ClickCoordinate.X = -1

	got := h.agg.State()
	if got.Features["roads"][0].Properties["src"] != "roads.1" || len(got.Features) != 1 || got.ClickCoordinate.X == -1 {
		t.Fatalf("listener mutation leaked into state: %+v", got)
	}
}

func TestOnSettledHook(t *testing.T) {
	srv := newFeatureServer(t, http.StatusOK, fcJSON("roads.1"))
	l := imageLayer(srv.URL+"/ows", "demo:roads")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}

	settled := make(chan Settlement, 1)
	h := start(t, Deps{Engine: eng, Executor: realExecutor(), OnSettled: func(_ context.Context, s Settlement) {
		settled <- s
	}}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	select {
	case s := <-settled:
		if s.Token == 0 || s.Features.Count() != 1 || s.Click.Projection != model.EPSG3857 || s.Click.Resolution != 10 {
			t.Fatalf("settlement=%+v", s)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("OnSettled not called")
	}
}

func TestLifecycle(t *testing.T) {
	hub := clicksource.NewHub()
	exec := executorFunc(func(context.Context, []batch.Request) ([][]byte, error) { return nil, nil })
	eng := newEngine()
	agg := New(Deps{Engine: eng, Source: hub, Executor: exec, Aggregate: featureinfo.New(discard()), Logger: discard()}, DefaultConfig())

	if err := agg.HandleClick(clickAt(eng, 1, 1)); !errors.Is(err, ErrInactive) {
		t.Fatalf("HandleClick before Activate err=%v", err)
	}
	if err := agg.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := agg.Activate(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Activate err=%v", err)
	}
	if hub.Len() != 1 {
		t.Fatalf("subscribers=%d want 1", hub.Len())
	}

	states := make(chan model.State, 8)
	agg.SetListener(func(s model.State) { states <- s })
	hub.Emit(clickAt(eng, 50, 50))
	deadline := time.After(waitTimeout)
	for settled := false; !settled; {
		select {
		case s := <-states:
			settled = !s.Loading
		case <-deadline:
			t.Fatalf("emitted click never settled")
		}
	}

	agg.Deactivate()
	agg.Deactivate()
	if hub.Len() != 0 {
		t.Fatalf("subscription leaked after Deactivate")
	}
	if err := agg.HandleClick(clickAt(eng, 1, 1)); !errors.Is(err, ErrInactive) {
		t.Fatalf("HandleClick after Deactivate err=%v", err)
	}

	// re-activation works and keeps state
	if err := agg.Activate(context.Background()); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	defer agg.Deactivate()
	if agg.State().ClickCoordinate == nil {
		t.Fatalf("state lost across re-activation")
	}
}

func TestDeactivate_AbortsInFlightAndClearsLoading(t *testing.T) {
	l := imageLayer("http://gs.invalid/ows", "demo:any")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}
	exec := &gatedExecutor{started: make(chan chan gateResult, 1)}
	h := start(t, Deps{Engine: eng, Executor: exec}, cfg)

	_ = h.agg.HandleClick(clickAt(eng, 50, 50))
	<-exec.started

	done := make(chan struct{})
	go func() {
		h.agg.Deactivate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("Deactivate blocked on in-flight click")
	}
	if h.agg.State().Loading {
		t.Fatalf("loading left set after Deactivate")
	}
}

func TestConfigNormalization(t *testing.T) {
	agg := New(Deps{}, Config{FeatureCount: 0, HitTolerance: -3})
	c := agg.Config()
	if c.FeatureCount != 1 || c.HitTolerance != 5 {
		t.Fatalf("normalized=%+v", c)
	}
	d := DefaultConfig()
	if d.FeatureCount != 1 || !d.DrillDown || d.HitTolerance != 5 || len(d.QueryLayers) != 0 {
		t.Fatalf("defaults=%+v", d)
	}
}

func TestParentContextCancel_Deactivates(t *testing.T) {
	hub := clicksource.NewHub()
	l := imageLayer("http://gs.invalid/ows", "demo:any")
	eng := newEngine(l)
	cfg := DefaultConfig()
	cfg.QueryLayers = []*mapengine.Layer{l}
	exec := &gatedExecutor{started: make(chan chan gateResult, 1)}
	agg := New(Deps{Engine: eng, Source: hub, Executor: exec, Aggregate: featureinfo.New(discard()), Logger: discard()}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	if err := agg.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	_ = agg.HandleClick(clickAt(eng, 50, 50))
	<-exec.started
	cancel()

	deadline := time.Now().Add(waitTimeout)
	for agg.Active() || agg.State().Loading {
		if time.Now().After(deadline) {
			t.Fatalf("parent cancel left active=%v loading=%v", agg.Active(), agg.State().Loading)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := agg.HandleClick(clickAt(eng, 1, 1)); !errors.Is(err, ErrInactive) {
		t.Fatalf("HandleClick after parent cancel err=%v", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("subscription leaked after parent cancel")
	}

	agg.Deactivate()
	if err := agg.Activate(context.Background()); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	agg.Deactivate()
}

func TestListenerMayCallHandleClick(t *testing.T) {
	exec := executorFunc(func(context.Context, []batch.Request) ([][]byte, error) { return nil, nil })
	eng := newEngine()
	agg := New(Deps{Engine: eng, Executor: exec, Aggregate: featureinfo.New(discard()), Logger: discard()}, DefaultConfig())

	var once sync.Once
	fired := make(chan struct{})
	agg.SetListener(func(s model.State) {
		if s.Loading {
			return
		}
		// a burst of clicks queued from inside a listener
		once.Do(func() {
			defer close(fired)
			for range 256 {
				if err := agg.HandleClick(clickAt(eng, 50, 50)); err != nil {
					t.Errorf("HandleClick from listener: %v", err)
					return
				}
			}
		})
	})
	if err := agg.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(agg.Deactivate)

	_ = agg.HandleClick(clickAt(eng, 50, 50))
	select {
	case <-fired:
	case <-time.After(waitTimeout):
		t.Fatalf("event loop stalled on a listener calling HandleClick")
	}
}
