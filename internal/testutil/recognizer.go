package testutil

import (
	"context"
	"sync"

	"github.com/hpungsan/echocap/internal/activation"
)

// FakeRecognizer is an activation.Recognizer whose feeds are driven by the test.
type FakeRecognizer struct {
	mu   sync.Mutex
	errs []error
	subs []*FakeSubscription
}

// NewFakeRecognizer returns a recognizer whose Subscribe always succeeds
// until FailNext is used.
func NewFakeRecognizer() *FakeRecognizer {
	return &FakeRecognizer{}
}

// FailNext queues errors returned by the next Subscribe calls, in order.
func (r *FakeRecognizer) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, errs...)
}

// Subscribe implements activation.Recognizer.
func (r *FakeRecognizer) Subscribe(ctx context.Context) (activation.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}

	s := &FakeSubscription{
		events: make(chan activation.Event, 16),
		closed: make(chan struct{}),
	}
	r.subs = append(r.subs, s)
	return s, nil
}

// Subscriptions returns how many feeds were opened successfully.
func (r *FakeRecognizer) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Current returns the most recent feed, or nil.
func (r *FakeRecognizer) Current() *FakeSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 {
		return nil
	}
	return r.subs[len(r.subs)-1]
}

// FakeSubscription is one fake feed.
type FakeSubscription struct {
	events chan activation.Event

	endOnce   sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// Events implements activation.Subscription.
func (s *FakeSubscription) Events() <-chan activation.Event {
	return s.events
}

// Close implements activation.Subscription.
func (s *FakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether the consumer closed the feed.
func (s *FakeSubscription) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Say emits a final transcript.
func (s *FakeSubscription) Say(text string) {
	s.send(activation.Event{Text: text, Final: true})
}

// SayPartial emits an interim transcript.
func (s *FakeSubscription) SayPartial(text string) {
	s.send(activation.Event{Text: text})
}

// Error emits a recognition error.
func (s *FakeSubscription) Error(err error) {
	s.send(activation.Event{Err: err})
}

// End terminates the feed as if the platform dropped it.
func (s *FakeSubscription) End() {
	s.endOnce.Do(func() { close(s.events) })
}

func (s *FakeSubscription) send(ev activation.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}
