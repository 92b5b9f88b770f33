package service

import (
	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// Subscribe streams the session's views in version order, starting with the
// current one. A terminal session yields its final view and closes.
func (s *CheckoutServiceImpl) Subscribe(sessionID string) (*Subscription, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ch := make(chan d.SessionView, s.settings.SubscriberBuffer)
	ch <- sess.view()
	if sess.state.IsTerminal() {
		close(ch)
		return &Subscription{updates: ch, closeFn: func() {}}, nil
	}

	id := sess.nextSubID
	sess.nextSubID++
	sess.subs[id] = &subscriber{ch: ch}

	return &Subscription{
		updates: ch,
		closeFn: func() {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sub, ok := sess.subs[id]; ok {
				close(sub.ch)
				delete(sess.subs, id)
			}
		},
	}, nil
}

// SubscribeFunc calls fn for every view on its own goroutine until the
// session ends or the returned cancel is called.
func (s *CheckoutServiceImpl) SubscribeFunc(sessionID string, fn func(d.SessionView)) (func(), error) {
	sub, err := s.Subscribe(sessionID)
	if err != nil {
		return nil, err
	}
	go func() {
		for v := range sub.Updates() {
			fn(v)
		}
	}()
	return sub.Close, nil
}
