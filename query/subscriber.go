package query

import "context"

// Subscriber is a handle for a notification callback. Subscriber sets
// deduplicate by handle identity, so the same *Subscriber must be passed
// to Unsubscribe.
type Subscriber struct {
	fn func()
}

// NewSubscriber wraps fn in a new handle.
func NewSubscriber(fn func()) *Subscriber {
	return &Subscriber{fn: fn}
}

// Notify invokes the callback.
func (s *Subscriber) Notify() {
	if s != nil && s.fn != nil {
		s.fn()
	}
}

// Subscribe adds s to the subscriber set of key. Adding the same handle
// twice has no effect.
func (c *Client) Subscribe(key Key, s *Subscriber) error {
	if s == nil {
		return nil
	}
	k, err := Canonical(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.subscribers[k] {
		if existing == s {
			return nil
		}
	}
	c.subscribers[k] = append(c.subscribers[k], s)
	return nil
}

// Unsubscribe removes s from the subscriber set of key. Removing a handle
// that is not present is a no-op.
func (c *Client) Unsubscribe(key Key, s *Subscriber) error {
	k, err := Canonical(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subscribers[k]
	for i, existing := range subs {
		if existing != s {
			continue
		}
		next := make([]*Subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(c.subscribers, k)
		} else {
			c.subscribers[k] = next
		}
		return nil
	}
	return nil
}

// SubscriberCount returns the number of subscribers for key.
func (c *Client) SubscriberCount(key Key) int {
	k, err := Canonical(key)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers[k])
}

// notify runs every subscriber of k in registration order. The set is
// snapshotted so callbacks may subscribe or unsubscribe re-entrantly.
func (c *Client) notify(ctx context.Context, k string) []error {
	c.mu.Lock()
	subs := c.subscribers[k]
	c.mu.Unlock()

	var failures []error
	for i, s := range subs {
		if err := c.guard(ctx, StageSubscriber, k, i, s.Notify); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}
