package service

import (
	"sync"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
)

// session is the live checkout aggregate. Every field is guarded by mu and
// only the controller writes to it.
type session struct {
	mu sync.Mutex

	id      string
	buyerID string
	retryOf string

	state     d.CheckoutState
	version   int64
	snapshot  *d.CartSnapshot
	selection *d.MethodSelection
	intent    *d.PaymentIntent
	// generation invalidates results and watcher events of discarded intents
	generation int
	watch      *watcher.Handle
	orderID    string
	failure    *d.Failure

	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time

	subs      map[int]*subscriber
	nextSubID int
}

func newSession(id, buyerID string, snapshot *d.CartSnapshot, retryOf string, now time.Time) *session {
	return &session{
		id:        id,
		buyerID:   buyerID,
		retryOf:   retryOf,
		state:     d.StateIdle,
		snapshot:  snapshot,
		createdAt: now,
		updatedAt: now,
		subs:      make(map[int]*subscriber),
	}
}

func (s *session) view() d.SessionView {
	v := d.SessionView{
		ID:        s.id,
		BuyerID:   s.buyerID,
		State:     s.state,
		Version:   s.version,
		Snapshot:  s.snapshot.Clone(),
		OrderID:   s.orderID,
		RetryOf:   s.retryOf,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.selection != nil {
		sel := *s.selection
		v.Selection = &sel
	}
	if s.intent != nil {
		intent := *s.intent
		v.Intent = &intent
	}
	if s.failure != nil {
		f := *s.failure
		v.Failure = &f
	}
	return v
}

type subscriber struct {
	ch chan d.SessionView
}

// send never blocks the session: a slow subscriber loses its oldest view.
// Callers hold the session lock, so views are enqueued in version order.
func (sub *subscriber) send(v d.SessionView) {
	for {
		select {
		case sub.ch <- v:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func (s *session) publish(v d.SessionView) {
	for _, sub := range s.subs {
		sub.send(v)
	}
}

func (s *session) closeSubscribers() {
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}

// Subscription streams session views, starting with the current one. The
// channel is closed after the terminal view or on Close.
type Subscription struct {
	updates <-chan d.SessionView
	once    sync.Once
	closeFn func()
}

func (s *Subscription) Updates() <-chan d.SessionView {
	return s.updates
}

func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}
