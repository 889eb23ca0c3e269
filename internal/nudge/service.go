package nudge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/nudge/internal/nudge")

var (
	// ErrUnknownTrigger means an action names a group/code pair that is not
	// in the current catalog.
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrPromptClosed means the user already opted out for good.
	ErrPromptClosed = errors.New("prompt permanently closed for user")
)

const notifyTimeout = 15 * time.Second

// Options configures what the Service shows.
type Options struct {
	Product    string
	ReviewURL  string
	Extensions []Extension
}

// Session is the request-scoped view of one user: the catalog evaluated
// for this instant and the user's stored record.
type Session struct {
	UserID  string
	Env     Env
	Catalog *Catalog
	Record  *Record
}

// Service is the business boundary for prompt operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	opts     Options
	locks    userLocks
}

// NewService creates a new prompt service. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		opts:     opts,
	}
}

// Current returns the prompt to render for the user, or nil when nothing
// must be shown.
func (s *Service) Current(ctx context.Context, userID string) (*Selection, error) {
	ctx, span := tracer.Start(ctx, "nudge.Current", trace.WithAttributes(
		attribute.String("nudge.user.id", userID),
	))
	defer span.End()

	sess, err := s.session(ctx, userID)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	start := time.Now()
	sel := s.engine.Select(sess.Catalog, sess.Record)
	s.metrics.observeSelect(time.Since(start).Seconds())

	verdict := s.engine.Gate(sess.Record, sel)
	s.metrics.observeVerdict(verdict)
	span.SetAttributes(attribute.String("nudge.verdict", string(verdict)))

	if verdict != VerdictShow {
		return nil, nil
	}

	span.SetAttributes(
		attribute.String("nudge.group", sel.Group),
		attribute.String("nudge.trigger", sel.Code),
	)
	return sel, nil
}

// Dismiss records the user's answer to the prompt. The trigger is resolved
// against the catalog; the priority sent by the client is not trusted.
func (s *Service) Dismiss(ctx context.Context, userID string, act Action) (*DismissResult, error) {
	ctx, span := tracer.Start(ctx, "nudge.Dismiss", trace.WithAttributes(
		attribute.String("nudge.user.id", userID),
		attribute.String("nudge.group", act.Group),
		attribute.String("nudge.trigger", act.Code),
		attribute.String("nudge.reason", string(act.Reason)),
	))
	defer span.End()

	L := s.logger.With("user_id", userID, "group", act.Group, "trigger", act.Code)

	unlock := s.locks.lock(userID)
	defer unlock()

	sess, err := s.session(ctx, userID)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	if sess.Record.AlreadyDid {
		return nil, ErrPromptClosed
	}

	sel := s.engine.Select(sess.Catalog, sess.Record)
	if sel == nil || sel.Group != act.Group || sel.Code != act.Code {
		t, ok := sess.Catalog.Lookup(act.Group, act.Code)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTrigger, act.Group, act.Code)
		}
		sel = &Selection{
			Group:    act.Group,
			Code:     t.Code,
			Priority: t.Priority.Value,
			Message:  t.Message,
			Link:     t.Link,
		}
	}
	if act.Priority != 0 && act.Priority != sel.Priority {
		L.Warn(ctx, "client priority differs from catalog", "client_priority", act.Priority, "priority", sel.Priority)
	}

	next := s.engine.ApplyDismissal(sess.Record, sel, act.Reason)
	if err := SaveRecord(ctx, s.store, userID, next); err != nil {
		s.metrics.observeStoreError("save_record")
		recordErr(span, err)
		return nil, err
	}
	s.metrics.observeDismissal(act.Reason)

	ev := &DismissalEvent{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Group:      sel.Group,
		Code:       sel.Code,
		Priority:   sel.Priority,
		Reason:     act.Reason,
		Closed:     next.AlreadyDid,
		OccurredAt: next.LastDismissedAt,
	}
	span.SetAttributes(attribute.String("nudge.event.id", ev.ID))

	L.Info(ctx, "prompt dismissed",
		"event_id", ev.ID,
		"reason", act.Reason,
		"priority", sel.Priority,
		"closed", ev.Closed,
	)

	if s.notifier != nil {
		go s.notify(context.WithoutCancel(ctx), ev)
	}

	return &DismissResult{Event: ev, Record: next}, nil
}

// Record returns the stored dismissal record for a user.
func (s *Service) Record(ctx context.Context, userID string) (*Record, error) {
	rec, err := LoadRecord(ctx, s.store, userID)
	if err != nil {
		s.metrics.observeStoreError("load_record")
		return nil, err
	}
	return rec, nil
}

// session builds the request-scoped catalog and loads the user's record.
func (s *Service) session(ctx context.Context, userID string) (*Session, error) {
	now := s.engine.Now()

	installedAt, err := InstalledAt(ctx, s.store, now)
	if err != nil {
		s.metrics.observeStoreError("installed_at")
		return nil, err
	}

	rec, err := LoadRecord(ctx, s.store, userID)
	if err != nil {
		s.metrics.observeStoreError("load_record")
		return nil, err
	}

	env := Env{
		InstalledAt: installedAt,
		Now:         now,
		Product:     s.opts.Product,
		ReviewURL:   s.opts.ReviewURL,
	}
	overrides := make([]Override, 0, len(s.opts.Extensions))
	for _, x := range s.opts.Extensions {
		if x != nil {
			overrides = append(overrides, x.Bind(env))
		}
	}

	return &Session{
		UserID:  userID,
		Env:     env,
		Catalog: Build(DefaultDefinitions(env), overrides...),
		Record:  rec,
	}, nil
}

func (s *Service) notify(ctx context.Context, ev *DismissalEvent) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, ev); err != nil {
		s.metrics.observeNotifyError()
		s.logger.Error(ctx, err, "failed to send dismissal notification", "event_id", ev.ID)
	}
}

// userLocks serializes read-modify-write of one user's record.
type userLocks struct {
	stripes [64]sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	m := &l.stripes[xxhash.Sum64String(userID)%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
