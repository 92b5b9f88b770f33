package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// StatusSource is the part of the payment collaborator the watcher needs.
type StatusSource interface {
	GetIntentStatus(ctx context.Context, intentID string) (d.IntentStatus, error)
}

type PollRecorder interface {
	ObservePoll(outcome string)
}

// Watcher polls a payment intent until it settles, fails or expires.
type Watcher struct {
	source      StatusSource
	interval    time.Duration
	callTimeout time.Duration
	recorder    PollRecorder
	log         *slog.Logger
	now         func() time.Time
}

func New(source StatusSource, interval, callTimeout time.Duration, recorder PollRecorder, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if callTimeout <= 0 || callTimeout > interval {
		callTimeout = interval
	}
	return &Watcher{
		source:      source,
		interval:    interval,
		callTimeout: callTimeout,
		recorder:    recorder,
		log:         log.With("component", "settlement_watcher"),
		now:         time.Now,
	}
}

// Handle controls one running watch.
type Handle struct {
	mu       sync.Mutex
	finished bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Stop ends polling. Once Stop returns no terminal emission can start; an
// emission already claimed before the call may still be delivered.
// Stop never blocks on the polling goroutine and is safe to call repeatedly.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.finished = true
	h.mu.Unlock()
	h.cancel()
}

// Done is closed when the polling goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.finished = true
	return true
}

// Watch starts polling intent. onTerminal is called at most once, from the
// watcher goroutine, with SETTLED, FAILED or EXPIRED. The first poll is
// issued immediately and the watch gives up at intent.ExpiresAt. An intent
// without an expiry is polled until it ends or the watch is stopped.
func (w *Watcher) Watch(intent d.PaymentIntent, onTerminal func(d.IntentStatus)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, h, intent, onTerminal)
	return h
}

func (w *Watcher) run(ctx context.Context, h *Handle, intent d.PaymentIntent, onTerminal func(d.IntentStatus)) {
	defer close(h.done)
	defer h.cancel()

	log := w.log.With("intent_id", intent.ID)
	var expired <-chan time.Time
	if !intent.ExpiresAt.IsZero() {
		deadline := time.NewTimer(intent.ExpiresAt.Sub(w.now()))
		defer deadline.Stop()
		expired = deadline.C
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if status, ok := w.poll(ctx, log, intent.ID); ok && status.IsTerminal() {
			w.emit(h, log, status, onTerminal)
			return
		}
		if intent.IsExpired(w.now()) {
			w.expire(h, log, intent, onTerminal)
			return
		}

		select {
		case <-ctx.Done():
			log.Debug("settlement watch stopped")
			return
		case <-expired:
			w.expire(h, log, intent, onTerminal)
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, log *slog.Logger, intentID string) (d.IntentStatus, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	status, err := w.source.GetIntentStatus(pollCtx, intentID)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		// transient: keep polling until the deadline
		log.Warn("settlement poll failed", "error", err)
		w.record("error")
		return "", false
	}
	w.record(status.String())
	return status, true
}

func (w *Watcher) expire(h *Handle, log *slog.Logger, intent d.PaymentIntent, onTerminal func(d.IntentStatus)) {
	log.Info("payment intent expired without settlement", "expires_at", intent.ExpiresAt)
	w.emit(h, log, d.IntentStatusExpired, onTerminal)
}

func (w *Watcher) emit(h *Handle, log *slog.Logger, status d.IntentStatus, onTerminal func(d.IntentStatus)) {
	if !h.claim() {
		log.Debug("dropping terminal status after stop", "status", status)
		return
	}
	onTerminal(status)
}

func (w *Watcher) record(outcome string) {
	if w.recorder != nil {
		w.recorder.ObservePoll(outcome)
	}
}
