package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/status"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

// ScannerConfig tunes the dispatch scan.
type ScannerConfig struct {
	// ScanInterval is the period between store scans. Defaults to 30s.
	ScanInterval time.Duration
}

const defaultScanInterval = 30 * time.Second

// Scanner periodically reads dispatchable tasks from the store and hands
// them to the dispatcher. The in-flight set keeps a task from being
// dispatched again while a scheduler still owns it; entries are released on
// terminal transitions, on transitions back to a dispatchable status, and
// on requeue announcements from a shutting-down scheduler.
type Scanner struct {
	cfg     ScannerConfig
	store   store.Store
	disp    *Dispatcher
	bus     eventbus.Bus
	inf     *InFlight
	log     logx.Logger
	scanLog rate.Sometimes

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lastDropped is the bus drop counter as of the previous scan. A raised
	// counter means a release event may have been lost, so the next scan
	// re-checks in-flight entries against the store.
	lastDropped atomic.Uint64

	mu      sync.Mutex
	started bool
	unsub   func()
}

func NewScanner(cfg ScannerConfig, st store.Store, disp *Dispatcher, bus eventbus.Bus, inf *InFlight, log logx.Logger) *Scanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		cfg:   cfg,
		store: st,
		disp:  disp,
		bus:   bus,
		inf:   inf,
		log:   log,
		// Repeated scan failures (store briefly locked, disk hiccup)
		// collapse to one log line per interval.
		scanLog: rate.Sometimes{Interval: time.Minute},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scanner already started")
	}
	s.started = true

	ch, unsub := s.bus.Subscribe(256)
	s.unsub = unsub
	s.wg.Add(1)
	go s.consumeEvents(ch)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.ScanInterval), s.Scan); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	s.cron.Start()
	s.log.Info("scanner started", logx.Duration("scan_interval", s.cfg.ScanInterval))

	// Pick up work left over from before the last shutdown right away.
	go s.Scan()
	return nil
}

// Scan reads dispatchable tasks and dispatches those not already in flight.
func (s *Scanner) Scan() {
	if d := s.bus.Dropped(); s.lastDropped.Swap(d) != d {
		s.reconcile()
	}
	tasks, err := s.store.DispatchableTasks(s.ctx, time.Now())
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.scanLog.Do(func() {
			s.log.Warn("task scan failed", logx.Err(err))
		})
		return
	}
	for _, t := range tasks {
		if !s.inf.Add(t.ID) {
			continue
		}
		if err := s.disp.Dispatch(t); err != nil {
			s.inf.Remove(t.ID)
			s.log.Error("task dispatch failed",
				logx.Int64("task", t.ID),
				logx.String("status", string(t.Status)),
				logx.Err(err),
			)
		}
	}
}

func (s *Scanner) consumeEvents(ch <-chan eventbus.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Scanner) handleEvent(ev eventbus.Event) {
	switch ev.Type {
	case status.EventTransition:
		te, ok := ev.Data.(status.TransitionEvent)
		if !ok {
			return
		}
		// Terminal tasks are done; tasks back in a dispatchable status
		// are the scanner's to hand out again. RETRYING keeps its entry
		// because the owning scheduler retries it in place.
		if te.To.Terminal() || te.To.Dispatchable() {
			s.inf.Remove(te.TaskID)
		}
	case status.EventRequeued:
		re, ok := ev.Data.(status.RequeueEvent)
		if !ok {
			return
		}
		s.inf.Remove(re.TaskID)
	}
}

// reconcile releases in-flight entries whose task is already terminal (or
// gone) in the store. A dropped terminal event would otherwise leak the
// entry forever. Entries whose stored status is still dispatchable are left
// alone: a task legitimately sits in a scheduler queue in that state.
func (s *Scanner) reconcile() {
	for _, id := range s.inf.IDs() {
		t, err := s.store.Task(s.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.inf.Remove(id)
			continue
		}
		if err != nil {
			continue
		}
		if t.Status.Terminal() {
			s.inf.Remove(id)
			s.log.Warn("released stale in-flight entry",
				logx.Int64("task", id),
				logx.String("status", string(t.Status)),
			)
		}
	}
}

// InFlight reports how many dispatched tasks are still owned by schedulers.
func (s *Scanner) InFlight() int { return s.inf.Len() }

func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	if s.unsub != nil {
		s.unsub()
	}
	s.wg.Wait()
	s.log.Info("scanner stopped")
}
