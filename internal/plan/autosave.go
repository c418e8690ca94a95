package plan

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Saver is the background best-effort persistence task. It accepts explicit
// Flush calls from the host application's own lifecycle, runs an optional
// periodic save on a configurable cadence (default hourly), and drains with
// one final save on Stop.
//
// Saves never block step progression: they run on the Saver's own goroutine,
// and failures are logged as warnings, never propagated.
type Saver struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration

	// snapshot returns the plans to persist on each cycle. Callers supply
	// a function that reads their plan set at a consistent point.
	snapshot func() []*Plan

	requests chan *Plan
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// SaverOption is a functional option for configuring a Saver.
type SaverOption func(*Saver)

// WithSaveInterval sets the periodic save cadence. Default: one hour.
func WithSaveInterval(d time.Duration) SaverOption {
	return func(s *Saver) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSaverLogger configures the saver's logger.
func WithSaverLogger(l *slog.Logger) SaverOption {
	return func(s *Saver) {
		s.logger = l
	}
}

// NewSaver creates a Saver persisting through store. snapshot provides the
// plans to save on each periodic cycle and on final flush; it may be nil if
// only Enqueue is used.
func NewSaver(store Store, snapshot func() []*Plan, opts ...SaverOption) *Saver {
	s := &Saver{
		store:    store,
		logger:   slog.Default(),
		interval: time.Hour,
		snapshot: snapshot,
		requests: make(chan *Plan, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background save loop.
func (s *Saver) Start() {
	go s.loop()
}

// Enqueue requests a best-effort save of one plan. It never blocks: when the
// queue is full the request is dropped with a warning.
func (s *Saver) Enqueue(pl *Plan) {
	select {
	case s.requests <- pl:
	default:
		s.logger.Warn("save queue full, dropping save request", "plan_id", pl.ID)
	}
}

// Flush synchronously saves the current snapshot. Host applications invoke
// this from their own scheduler instead of relying on the periodic timer.
func (s *Saver) Flush(ctx context.Context) {
	s.saveSnapshot(ctx)
}

// Stop shuts the saver down: the loop drains pending requests, performs one
// final snapshot save, and Stop returns once that flush completes. Stop is
// idempotent.
func (s *Saver) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Saver) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case pl := <-s.requests:
			s.save(ctx, pl)
		case <-ticker.C:
			s.saveSnapshot(ctx)
		case <-s.stop:
			// Drain pending requests, then one final flush.
			for {
				select {
				case pl := <-s.requests:
					s.save(ctx, pl)
				default:
					s.saveSnapshot(ctx)
					return
				}
			}
		}
	}
}

func (s *Saver) saveSnapshot(ctx context.Context) {
	if s.snapshot == nil {
		return
	}
	for _, pl := range s.snapshot() {
		s.save(ctx, pl)
	}
}

func (s *Saver) save(ctx context.Context, pl *Plan) {
	if err := s.store.SavePlan(ctx, pl); err != nil {
		s.logger.Warn("periodic plan save failed", "plan_id", pl.ID, "error", err)
	}
}
