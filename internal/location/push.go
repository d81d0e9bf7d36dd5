package location

import (
	"context"
	"sync"
	"time"

	"backend-orienteering/internal/shared/geo"
)

const defaultPushBuffer = 64

// PushSource is a Source fed by Push calls, e.g. fixes posted by the mobile
// client. Delivery to each subscriber is in push order and never blocks the
// pusher: a full subscriber buffer drops the fix.
type PushSource struct {
	mu     sync.Mutex
	subs   map[*pushSub]struct{}
	buffer int
	denied error
}

type pushSub struct {
	c           chan RawLocation
	errs        chan error
	minDistance float64
	last        *RawLocation
	stop        func() bool
}

func NewPushSource(buffer int) *PushSource {
	if buffer <= 0 {
		buffer = defaultPushBuffer
	}
	return &PushSource{subs: map[*pushSub]struct{}{}, buffer: buffer}
}

// Stream subscribes to pushed fixes. The interval hint is ignored because the
// client decides when to push; fixes closer than minDistanceM to the previous
// delivered fix are skipped.
func (p *PushSource) Stream(ctx context.Context, _ time.Duration, minDistanceM float64) (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied != nil {
		return nil, p.denied
	}

	sub := &pushSub{
		c:           make(chan RawLocation, p.buffer),
		errs:        make(chan error, 1),
		minDistance: minDistanceM,
	}
	p.subs[sub] = struct{}{}

	sub.stop = context.AfterFunc(ctx, func() { p.remove(sub) })
	cancel := func() {
		sub.stop()
		p.remove(sub)
	}
	return NewSubscription(sub.c, sub.errs, cancel), nil
}

func (p *PushSource) remove(sub *pushSub) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub]; ok {
		delete(p.subs, sub)
		close(sub.c)
		close(sub.errs)
	}
}

// Push delivers loc to every subscriber and returns how many accepted it.
func (p *PushSource) Push(loc RawLocation) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	delivered := 0
	for sub := range p.subs {
		if sub.last != nil && sub.minDistance > 0 &&
			geo.DistanceMeters(sub.last.Latitude, sub.last.Longitude, loc.Latitude, loc.Longitude) < sub.minDistance {
			continue
		}
		select {
		case sub.c <- loc:
			l := loc
			sub.last = &l
			delivered++
		default:
		}
	}
	return delivered
}

// Fail reports a recoverable provider error to every subscriber.
func (p *PushSource) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		select {
		case sub.errs <- err:
		default:
		}
	}
}

// SetDenied makes future Stream calls fail with err; nil clears it.
func (p *PushSource) SetDenied(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = err
}

func (p *PushSource) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Registry hands out one PushSource per user.
type Registry struct {
	mu      sync.Mutex
	sources map[int64]*PushSource
	buffer  int
}

func NewRegistry(buffer int) *Registry {
	return &Registry{sources: map[int64]*PushSource{}, buffer: buffer}
}

func (r *Registry) For(userID int64) *PushSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[userID]
	if !ok {
		src = NewPushSource(r.buffer)
		r.sources[userID] = src
	}
	return src
}
