package frame

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

// DefaultLookupTimeout is how long a lookup waits for a transform to arrive
// before giving up.
const DefaultLookupTimeout = time.Second

type edge struct {
	parent string
	child  string
}

// Buffer is an in-memory transform store. It keeps the latest transform per
// (parent, child) pair and lets lookups wait, up to a bounded timeout, for a
// transform that has not arrived yet. It implements both Lookuper and
// Broadcaster so a process can be wired to itself in tests and replays.
type Buffer struct {
	timeout time.Duration
	clock   clock.Clock

	mu       sync.Mutex
	latest   map[edge]StampedPose
	watchers map[chan struct{}]struct{}
}

// NewBuffer returns a Buffer with the default lookup timeout.
func NewBuffer() *Buffer {
	return NewBufferWithClock(DefaultLookupTimeout, clock.New())
}

// NewBufferWithClock returns a Buffer with the given timeout, reading time
// from the given clock.
func NewBufferWithClock(timeout time.Duration, c clock.Clock) *Buffer {
	return &Buffer{
		timeout:  timeout,
		clock:    c,
		latest:   map[edge]StampedPose{},
		watchers: map[chan struct{}]struct{}{},
	}
}

// SendTransform stores the transform as the latest for its frame pair and
// wakes any lookup waiting on it.
func (b *Buffer) SendTransform(sp StampedPose) error {
	if sp.Pose == nil {
		return errors.New("refusing to store nil pose")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[edge{sp.Parent, sp.Child}] = sp
	for w := range b.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return nil
}

// LookupTransform returns the transform of source expressed in target. The
// direct edge wins; failing that, the reverse edge is returned inverted. If
// neither is known yet, the call blocks until one arrives or the buffer's
// timeout elapses. The at argument is accepted for interface compatibility;
// the buffer keeps only the latest transform per pair.
func (b *Buffer) LookupTransform(ctx context.Context, target, source string, at time.Time) (*spatialmath.Pose, error) {
	if target == source {
		return spatialmath.NewZeroPose(), nil
	}

	watch := make(chan struct{}, 1)
	b.mu.Lock()
	b.watchers[watch] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.watchers, watch)
		b.mu.Unlock()
	}()

	timer := b.clock.Timer(b.timeout)
	defer timer.Stop()

	for {
		if pose, ok := b.lookupOnce(target, source); ok {
			return pose, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "lookup of %q in %q interrupted", source, target)
		case <-timer.C:
			return nil, errors.Errorf("timed out waiting for transform from %q to %q", source, target)
		case <-watch:
		}
	}
}

func (b *Buffer) lookupOnce(target, source string) (*spatialmath.Pose, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sp, ok := b.latest[edge{target, source}]; ok {
		return sp.Pose.Clone(), true
	}
	if sp, ok := b.latest[edge{source, target}]; ok {
		return spatialmath.Invert(sp.Pose), true
	}
	return nil, false
}
