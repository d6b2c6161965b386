package node

import (
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/atomic"

	"github.com/stwirth/pointcloud-to-laserscan/scan"
)

// subscriptionBuffer is how many scans a subscriber may fall behind before
// newer scans are dropped for it.
const subscriptionBuffer = 8

// ScanPublisher fans finished scans out to any number of subscribers. The
// transitions between zero and one subscriber run the attach/detach hooks
// under the publisher's gate lock, so whatever the hooks guard (the upstream
// cloud subscription) always matches the subscriber count exactly.
//
// The gate lock is separate from the fan-out lock: a detach hook may wait for
// a worker that is mid-publish, so publish must never need the gate.
type ScanPublisher struct {
	logger  golog.Logger
	onFirst func() error
	onLast  func() error
	count   atomic.Int64

	gateMu sync.Mutex

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewScanPublisher returns a publisher that calls onFirst when the subscriber
// count rises from zero and onLast when it falls back to zero. Either hook
// may be nil.
func NewScanPublisher(onFirst, onLast func() error, logger golog.Logger) *ScanPublisher {
	return &ScanPublisher{
		logger:  logger,
		onFirst: onFirst,
		onLast:  onLast,
		subs:    map[*Subscription]struct{}{},
	}
}

// Subscription is one subscriber's view of the scan stream. Read scans from
// C; call Close when done.
type Subscription struct {
	C <-chan *scan.Scan

	ch  chan *scan.Scan
	pub *ScanPublisher
}

// Subscribe registers a new subscriber. If this is the first one and the
// attach hook fails, no subscription is created.
func (p *ScanPublisher) Subscribe() (*Subscription, error) {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	if p.count.Load() == 0 && p.onFirst != nil {
		if err := p.onFirst(); err != nil {
			return nil, err
		}
	}
	ch := make(chan *scan.Scan, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, pub: p}
	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.count.Store(int64(len(p.subs)))
	p.mu.Unlock()
	return sub, nil
}

// Close removes the subscription. Closing the last one runs the detach hook.
// Closing twice is harmless.
func (s *Subscription) Close() error {
	p := s.pub
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	p.mu.Lock()
	if _, ok := p.subs[s]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.subs, s)
	close(s.ch)
	remaining := len(p.subs)
	p.count.Store(int64(remaining))
	p.mu.Unlock()
	if remaining == 0 && p.onLast != nil {
		return p.onLast()
	}
	return nil
}

// SubscriberCount reports how many subscriptions are currently open.
func (p *ScanPublisher) SubscriberCount() int64 {
	return p.count.Load()
}

// publish delivers sc to every subscriber that has room for it. A subscriber
// that has fallen subscriptionBuffer scans behind misses this one; scans are
// a live feed, not a log.
func (p *ScanPublisher) publish(sc *scan.Scan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		select {
		case sub.ch <- sc:
		default:
			p.logger.Debugw("dropping scan for slow subscriber", "frame", sc.FrameID, "stamp", sc.Stamp)
		}
	}
}

// closeAll force-closes every open subscription without running the detach
// hook; the caller is tearing the whole pipeline down.
func (p *ScanPublisher) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		delete(p.subs, sub)
		close(sub.ch)
	}
	p.count.Store(0)
}
