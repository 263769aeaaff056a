package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chime/internal/eventbus"
	"chime/internal/reminder"
	rtsup "chime/internal/runtime/supervisor"
	logx "chime/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSink    = errors.New("no sink for channel")
)

const historyCap = 300

type job struct {
	n    Notification
	sink Sink
	key  string
}

// Service is the async presentation pipeline: queue, worker pool, rate
// limit, retry and dedup. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	sinks  []Sink
	player *Player

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, player *Player, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:    log,
		bus:    bus,
		sinks:  sinks,
		player: player,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the pipeline settings. Worker count and queue size take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// ApplySound forwards a reloaded sound section to the player.
func (s *Service) ApplySound(cfg SoundConfig) {
	if s.player != nil {
		s.player.Apply(cfg)
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes pass.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Supervisor exposes the worker supervisor for status output; nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Present enqueues r on every sink its channel routes to. It never blocks;
// failures come back as *reminder.PresentationError.
func (s *Service) Present(ctx context.Context, r reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return &reminder.PresentationError{Sink: "queue", Err: err}
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return &reminder.PresentationError{Sink: "queue", Err: ErrDisabled}
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return &reminder.PresentationError{Sink: "queue", Err: ErrStopped}
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	n := fromReminder(r)
	var targets []Sink
	for _, sk := range s.sinks {
		if sk.Wants(n.Channel) {
			targets = append(targets, sk)
		}
	}
	if len(targets) == 0 {
		s.log.Debug("no sink for reminder channel", logx.String("id", n.ReminderID), logx.String("channel", string(n.Channel)))
		return &reminder.PresentationError{Sink: string(n.Channel), Err: ErrNoSink}
	}

	// Only routable occurrences take a dedup slot.
	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.publish("notifier.deduped", NotificationEvent{ReminderID: n.ReminderID, Key: key})
		return nil
	}

	var errs []error
	for _, sk := range targets {
		select {
		case q <- job{n: n, sink: sk, key: key}:
			s.publish("notifier.queued", NotificationEvent{ReminderID: n.ReminderID, Sink: sk.Name(), Key: key})
		default:
			s.publish("notifier.dropped", NotificationEvent{ReminderID: n.ReminderID, Sink: sk.Name(), Key: key, Error: ErrQueueFull.Error()})
			errs = append(errs, &reminder.PresentationError{Sink: sk.Name(), Err: ErrQueueFull})
		}
	}
	return errors.Join(errs...)
}

// PlaySound rings the player directly, outside the queue.
func (s *Service) PlaySound(kind string, volume float64, muted bool) error {
	if s.player == nil {
		return &reminder.PresentationError{Sink: "sound", Err: ErrNoSink}
	}
	if err := s.player.Play(kind, volume, muted); err != nil {
		return &reminder.PresentationError{Sink: "sound", Err: err}
	}
	return nil
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliverWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.DeliverTimeout)
		err := j.sink.Deliver(callCtx, j.n)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), ReminderID: j.n.ReminderID, Sink: j.sink.Name(), Message: j.n.Message, Attempts: attempt})
			s.publish("notifier.sent", NotificationEvent{ReminderID: j.n.ReminderID, Sink: j.sink.Name(), Key: j.key})
			return
		}
		lastErr = err
		s.log.Debug("deliver failed", logx.String("sink", j.sink.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("presentation failed", logx.String("id", j.n.ReminderID), logx.String("sink", j.sink.Name()), logx.Err(lastErr))
	s.appendHistory(HistoryItem{At: time.Now(), ReminderID: j.n.ReminderID, Sink: j.sink.Name(), Message: j.n.Message, Attempts: maxAttempts, Error: lastErr.Error()})
	s.publish("notifier.failed", NotificationEvent{ReminderID: j.n.ReminderID, Sink: j.sink.Name(), Key: j.key, Error: lastErr.Error()})
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	now := time.Now()
	ev.At = now
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, ReminderID: ev.ReminderID, Data: ev})
}

// dedupKey identifies one occurrence of one reminder.
func dedupKey(n Notification) string {
	return fmt.Sprintf("%s@%d", n.ReminderID, n.FireAt.UnixMilli())
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var oldest string
		var oldestT time.Time
		for k, t := range s.dedup {
			if oldest == "" || t.Before(oldestT) {
				oldest, oldestT = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) with 0.7..1.3
// jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
