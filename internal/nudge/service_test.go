package nudge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// chanNotifier delivers events on a channel.
type chanNotifier struct {
	events chan *DismissalEvent
	err    error
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{events: make(chan *DismissalEvent, 16)}
}

func (n *chanNotifier) Send(_ context.Context, ev *DismissalEvent) error {
	n.events <- ev
	return n.err
}

// testClock is a settable Clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestService returns a service whose install is daysAgo days old.
func newTestService(t *testing.T, daysAgo int, opts Options) (*Service, *mapStore, *testClock) {
	t.Helper()
	store := newMapStore()
	store.setInstalled(testNow.Add(-time.Duration(daysAgo) * day))
	clock := &testClock{now: testNow}
	svc := NewService(store, NewEngine(clock), log.Nop(), nil, nil, opts)
	return svc, store, clock
}

func TestCurrent_NothingOnFreshInstall(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), nil, nil, Options{})

	sel, err := svc.Current(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sel != nil {
		t.Errorf("expected no prompt, got %+v", sel)
	}
	if string(store.options[OptionInstalledAt]) != string(formatUnix(testNow)) {
		t.Errorf("installed_at = %s, want first-use time", store.options[OptionInstalledAt])
	}
}

func TestCurrent_SelectsDueTrigger(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 40, Options{Product: "Acme", ReviewURL: "https://example.org/r"})

	sel, err := svc.Current(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sel == nil || sel.Code != "one_month" || sel.Priority != 20 {
		t.Fatalf("Current = %+v, want one_month(20)", sel)
	}
	if sel.Link != "https://example.org/r" {
		t.Errorf("Link = %q", sel.Link)
	}
}

func TestDismiss_MaybeLaterFlow(t *testing.T) {
	t.Parallel()

	svc, _, clock := newTestService(t, 40, Options{})
	ctx := context.Background()

	res, err := svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater})
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if res.Record.DismissedGroups[GroupTimeInstalled] != 20 {
		t.Errorf("dismissed = %v", res.Record.DismissedGroups)
	}
	if res.Event.ID == "" || res.Event.Closed {
		t.Errorf("event = %+v", res.Event)
	}

	// cooldown
	if sel, _ := svc.Current(ctx, "u-1"); sel != nil {
		t.Errorf("prompt shown during cooldown: %+v", sel)
	}

	// cooldown over but the only due trigger was dismissed
	clock.Advance(Cooldown)
	if sel, _ := svc.Current(ctx, "u-1"); sel != nil {
		t.Errorf("dismissed trigger re-shown: %+v", sel)
	}

	// three_months becomes due
	clock.Advance(60 * day)
	sel, err := svc.Current(ctx, "u-1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sel == nil || sel.Code != "three_months" {
		t.Errorf("Current = %+v, want three_months", sel)
	}
}

func TestDismiss_ClosingReasons(t *testing.T) {
	t.Parallel()

	for _, reason := range []Reason{ReasonAmNow, ReasonAlreadyDid} {
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			svc, _, clock := newTestService(t, 10, Options{})
			ctx := context.Background()

			res, err := svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_week", Reason: reason})
			if err != nil {
				t.Fatalf("Dismiss: %v", err)
			}
			if !res.Event.Closed || !res.Record.AlreadyDid {
				t.Errorf("expected closed record, got %+v", res.Record)
			}

			clock.Advance(365 * day)
			if sel, _ := svc.Current(ctx, "u-1"); sel != nil {
				t.Errorf("prompt shown after %s: %+v", reason, sel)
			}

			_, err = svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "three_months", Reason: ReasonMaybeLater})
			if !errors.Is(err, ErrPromptClosed) {
				t.Errorf("second Dismiss err = %v, want ErrPromptClosed", err)
			}
		})
	}
}

func TestDismiss_UnknownTrigger(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(t, 40, Options{})
	_, err := svc.Dismiss(context.Background(), "u-1", Action{Group: GroupTimeInstalled, Code: "nope", Reason: ReasonMaybeLater})
	if !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("err = %v, want ErrUnknownTrigger", err)
	}
	if store.sets != 0 {
		t.Error("unknown trigger must not write the record")
	}
}

func TestDismiss_UsesCatalogPriority(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 40, Options{})
	res, err := svc.Dismiss(context.Background(), "u-1", Action{
		Group:    GroupTimeInstalled,
		Code:     "one_week",
		Priority: 9999,
		Reason:   ReasonMaybeLater,
	})
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if got := res.Record.DismissedGroups[GroupTimeInstalled]; got != 10 {
		t.Errorf("dismissed priority = %d, want catalog value 10", got)
	}
}

func TestDismiss_StoreErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	store := newMapStore()
	store.setInstalled(testNow.Add(-40 * day))
	store.setErr = errors.New("write failed")
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), m, nil, Options{})

	_, err := svc.Dismiss(context.Background(), "u-1", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater})
	if !errors.Is(err, store.setErr) {
		t.Fatalf("err = %v, want wrapped write failed", err)
	}
	if got := testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("save_record")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}

	store.getErr = errors.New("read failed")
	if _, err := svc.Current(context.Background(), "u-1"); !errors.Is(err, store.getErr) {
		t.Errorf("Current err = %v, want wrapped read failed", err)
	}
	if got := testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("load_record")); got != 1 {
		t.Errorf("load errors = %v, want 1", got)
	}
}

func TestDismiss_UnknownReasonCountedAsOther(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	store := newMapStore()
	store.setInstalled(testNow.Add(-40 * day))
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), m, nil, Options{})

	for _, r := range []Reason{"bogus-1", "bogus-2"} {
		if _, err := svc.Dismiss(context.Background(), "u-"+string(r), Action{Group: GroupTimeInstalled, Code: "one_month", Reason: r}); err != nil {
			t.Fatalf("Dismiss(%s): %v", r, err)
		}
	}
	if _, err := svc.Dismiss(context.Background(), "u-3", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater}); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	if got := testutil.ToFloat64(m.DismissalsTotal.WithLabelValues("other")); got != 2 {
		t.Errorf("other dismissals = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DismissalsTotal.WithLabelValues(string(ReasonMaybeLater))); got != 1 {
		t.Errorf("maybe_later dismissals = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.DismissalsTotal); got != 2 {
		t.Errorf("dismissal series = %d, want 2", got)
	}
}

func TestCurrent_SelectDurationExcludesStoreReads(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	store := newMapStore()
	store.setInstalled(testNow.Add(-40 * day))
	store.getErr = errors.New("read failed")
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), m, nil, Options{})

	if _, err := svc.Current(context.Background(), "u-1"); err == nil {
		t.Fatal("expected read error")
	}
	if got := selectSamples(t, reg); got != 0 {
		t.Fatalf("select observed on failed read: %d samples", got)
	}

	store.getErr = nil
	if _, err := svc.Current(context.Background(), "u-1"); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got := selectSamples(t, reg); got != 1 {
		t.Errorf("select duration samples = %d, want 1", got)
	}
}

func selectSamples(t *testing.T, reg *prometheus.Registry) uint64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "nudge_select_duration_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestCurrent_OptionStoreError(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	store.optErr = errors.New("options unavailable")
	svc := NewService(store, nil, nil, nil, nil, Options{})

	if _, err := svc.Current(context.Background(), "u-1"); !errors.Is(err, store.optErr) {
		t.Errorf("err = %v, want wrapped options unavailable", err)
	}
}

func TestDismiss_NotifiesAsync(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	store.setInstalled(testNow.Add(-10 * day))
	n := newChanNotifier()
	n.err = errors.New("webhook down")

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), m, n, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	res, err := svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_week", Reason: ReasonAmNow})
	cancel()
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	select {
	case ev := <-n.events:
		if ev.ID != res.Event.ID || ev.Reason != ReasonAmNow || !ev.Closed {
			t.Errorf("notified event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notifier not called")
	}

	deadline := time.Now().Add(5 * time.Second)
	for testutil.ToFloat64(m.NotifyErrorsTotal) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("notify error not counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(m.DismissalsTotal.WithLabelValues("am_now")); got != 1 {
		t.Errorf("dismissals = %v, want 1", got)
	}
}

func TestCurrent_CountsVerdicts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	store := newMapStore()
	store.setInstalled(testNow.Add(-40 * day))
	svc := NewService(store, NewEngine(fixedClock(testNow)), log.Nop(), m, nil, Options{})
	ctx := context.Background()

	_, _ = svc.Current(ctx, "u-1")
	_, _ = svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater})
	_, _ = svc.Current(ctx, "u-1")

	if got := testutil.ToFloat64(m.PromptChecksTotal.WithLabelValues("show")); got != 1 {
		t.Errorf("show = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PromptChecksTotal.WithLabelValues("cooldown")); got != 1 {
		t.Errorf("cooldown = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SelectDuration); got != 1 {
		t.Errorf("select histogram series = %d, want 1", got)
	}
}

func TestService_Extensions(t *testing.T) {
	t.Parallel()

	ext := Extension(func(env Env, defs []GroupDef) []GroupDef {
		return append(defs, GroupDef{
			Key:      "feature_used",
			Priority: P(50),
			Triggers: []TriggerDef{{
				Code:       "ten_exports",
				Message:    "Enjoying " + env.Product + "?",
				Priority:   P(5),
				Conditions: []bool{env.Elapsed(day)},
			}},
		})
	})
	svc, _, _ := newTestService(t, 40, Options{Product: "Acme", Extensions: []Extension{nil, ext}})

	sel, err := svc.Current(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sel == nil || sel.Group != "feature_used" || sel.Message != "Enjoying Acme?" {
		t.Fatalf("Current = %+v, want feature_used/ten_exports", sel)
	}
}

func TestRecord_Service(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 40, Options{})
	ctx := context.Background()

	rec, err := svc.Record(ctx, "u-1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.AlreadyDid || len(rec.DismissedGroups) != 0 {
		t.Errorf("expected empty record, got %+v", rec)
	}

	_, _ = svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater})
	rec, err = svc.Record(ctx, "u-1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.DismissedGroups[GroupTimeInstalled] != 20 || !rec.LastDismissedAt.Equal(testNow) {
		t.Errorf("record = %+v", rec)
	}
}

func TestDismiss_ConcurrentSameUser(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 100, Options{})
	ctx := context.Background()

	codes := []string{"one_week", "one_month", "three_months"}
	var wg sync.WaitGroup
	for i := range 30 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: codes[n%3], Reason: ReasonMaybeLater})
		}(i)
	}
	wg.Wait()

	rec, err := svc.Record(ctx, "u-1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := rec.DismissedGroups[GroupTimeInstalled]; got != 30 {
		t.Errorf("dismissed priority = %d, want max 30", got)
	}
}

func TestService_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	svc, _, _ := newTestService(t, 40, Options{})
	ctx := context.Background()

	if _, err := svc.Current(ctx, "u-1"); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if _, err := svc.Dismiss(ctx, "u-1", Action{Group: GroupTimeInstalled, Code: "one_month", Reason: ReasonMaybeLater}); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	spans := exporter.GetSpans()
	byName := make(map[string]tracetest.SpanStub, len(spans))
	for _, s := range spans {
		byName[s.Name] = s
	}

	cur, ok := byName["nudge.Current"]
	if !ok {
		t.Fatalf("missing nudge.Current span, got %d spans", len(spans))
	}
	if !hasAttr(cur.Attributes, attribute.String("nudge.verdict", "show")) {
		t.Errorf("nudge.Current attributes = %v", cur.Attributes)
	}
	if !hasAttr(cur.Attributes, attribute.String("nudge.trigger", "one_month")) {
		t.Errorf("nudge.Current missing trigger attribute: %v", cur.Attributes)
	}

	dis, ok := byName["nudge.Dismiss"]
	if !ok {
		t.Fatal("missing nudge.Dismiss span")
	}
	if !hasAttr(dis.Attributes, attribute.String("nudge.reason", "maybe_later")) {
		t.Errorf("nudge.Dismiss attributes = %v", dis.Attributes)
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == want.Key && kv.Value.Emit() == want.Value.Emit() {
			return true
		}
	}
	return false
}
