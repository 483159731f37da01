// Package watcher polls every session with an active remote run on a fixed
// interval and reports terminal transitions.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/user/issuepilot/internal/lifecycle"
	"github.com/user/issuepilot/internal/notify"
	"github.com/user/issuepilot/internal/types"
)

// Poller reconciles one session with its remote run.
type Poller interface {
	PollStatus(ctx context.Context, id types.SessionID) (*lifecycle.PollResult, error)
}

// Options configures a Watcher.
type Options struct {
	Interval      time.Duration // default 5s; cron rounds below 1s up to 1s
	MaxConcurrent int           // default 4
	Logger        *slog.Logger
}

// Summary counts the outcome of one sweep.
type Summary struct {
	Polled  int
	Changed int
	Failed  int
}

// Watcher drives PollStatus for sessions in scoping or fixing.
type Watcher struct {
	store    types.SessionStore
	poller   Poller
	notifier notify.Notifier
	interval time.Duration
	limit    int
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a Watcher. notifier may be nil.
func New(store types.SessionStore, poller Poller, notifier notify.Notifier, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		poller:   poller,
		notifier: notifier,
		interval: opts.Interval,
		limit:    opts.MaxConcurrent,
		logger:   opts.Logger,
	}
}

// Start registers the sweep as a cron entry and starts the ticker. Sweeps
// never overlap; a tick that arrives while one is running is skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("watcher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := "@every " + w.interval.String()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := w.PollOnce(ctx); err != nil {
			w.logger.Error("poll sweep failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule poll sweep %q: %w", schedule, err)
	}
	c.Start()
	w.cron, w.cancel = c, cancel
	w.logger.Info("watcher started", "interval", w.interval.String(), "max_concurrent_polls", w.limit)
	return nil
}

// Stop halts the ticker, cancels a running sweep and waits for it to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// PollOnce polls every active session once. Poll errors are logged and
// counted; the session is retried on the next sweep. The returned error is
// only set when the store cannot be listed.
func (w *Watcher) PollOnce(ctx context.Context) (Summary, error) {
	sessions, err := w.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list sessions: %w", err)
	}

	var polled, changed, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)

	for _, sess := range sessions {
		if !sess.Status.Active() {
			continue
		}
		g.Go(func() error {
			polled.Add(1)
			res, err := w.poller.PollStatus(gctx, sess.ID)
			if err != nil {
				failed.Add(1)
				w.logger.Warn("poll failed", "session_id", sess.ID, "issue", sess.Key().String(), "error", err)
				return nil
			}
			if res.Session.Status == sess.Status {
				return nil
			}
			changed.Add(1)
			w.emit(gctx, notify.Event{Session: res.Session, From: sess.Status, To: res.Session.Status})
			return nil
		})
	}
	g.Wait()

	return Summary{Polled: int(polled.Load()), Changed: int(changed.Load()), Failed: int(failed.Load())}, nil
}

func (w *Watcher) emit(ctx context.Context, event notify.Event) {
	if w.notifier == nil || !notify.Terminal(event.To) {
		return
	}
	if err := w.notifier.Notify(ctx, event); err != nil {
		w.logger.Warn("notify failed", "session_id", event.Session.ID, "status", event.To, "error", err)
	}
}
