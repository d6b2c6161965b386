package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"github.com/stwirth/pointcloud-to-laserscan/converter"
	"github.com/stwirth/pointcloud-to-laserscan/frame"
	"github.com/stwirth/pointcloud-to-laserscan/pointcloud"
	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

type fakeSource struct {
	mu           sync.Mutex
	ch           chan *pointcloud.PointCloud
	subscribes   int
	unsubscribes int
	active       bool
	subscribeErr error
}

func (s *fakeSource) Subscribe() (<-chan *pointcloud.PointCloud, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.subscribes++
	s.active = true
	s.ch = make(chan *pointcloud.PointCloud, 16)
	return s.ch, nil
}

func (s *fakeSource) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes++
	s.active = false
	return nil
}

func (s *fakeSource) push(pc *pointcloud.PointCloud) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	ch <- pc
}

func (s *fakeSource) state() (subscribes, unsubscribes int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.unsubscribes, s.active
}

func newTestNode(t *testing.T, source Source) *Node {
	t.Helper()
	buf := frame.NewBuffer()
	err := buf.SendTransform(frame.StampedPose{
		Parent: converter.DefaultRefFrameID,
		Child:  "camera_rgb_optical_frame",
		Stamp:  time.Now(),
		Pose:   spatialmath.NewZeroPose(),
	})
	test.That(t, err, test.ShouldBeNil)
	return New(converter.DefaultConfig(), source, buf, buf, golog.NewTestLogger(t))
}

func TestDemandDrivenCloudStream(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)
	defer func() {
		test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	}()

	subscribes, _, active := source.state()
	test.That(t, subscribes, test.ShouldEqual, 0)
	test.That(t, active, test.ShouldBeFalse)

	first, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)
	subscribes, _, active = source.state()
	test.That(t, subscribes, test.ShouldEqual, 1)
	test.That(t, active, test.ShouldBeTrue)

	// a second subscriber shares the existing stream
	second, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)
	subscribes, _, _ = source.state()
	test.That(t, subscribes, test.ShouldEqual, 1)
	test.That(t, n.SubscriberCount(), test.ShouldEqual, 2)

	test.That(t, first.Close(), test.ShouldBeNil)
	_, _, active = source.state()
	test.That(t, active, test.ShouldBeTrue)

	test.That(t, second.Close(), test.ShouldBeNil)
	subscribes, unsubscribes, active := source.state()
	test.That(t, subscribes, test.ShouldEqual, 1)
	test.That(t, unsubscribes, test.ShouldEqual, 1)
	test.That(t, active, test.ShouldBeFalse)
}

func TestScanDelivery(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)
	defer func() {
		test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	}()

	sub, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)

	cloud := pointcloud.New("camera_rgb_optical_frame", time.Now())
	cloud.Add(pointcloud.NewVector(1.0, 0, 0.12))
	source.push(cloud)

	out := <-sub.C
	test.That(t, out.FrameID, test.ShouldEqual, converter.DefaultOutputFrameID)
	test.That(t, out.Ranges[180], test.ShouldAlmostEqual, 1.0)
	test.That(t, sub.Close(), test.ShouldBeNil)
}

func TestConversionFailureSkipsFrame(t *testing.T) {
	source := &fakeSource{}
	// an empty buffer with a short timeout; the first lookup times out and
	// the frame is skipped
	short := frame.NewBufferWithClock(20*time.Millisecond, clock.New())
	logger, logs := golog.NewObservedTestLogger(t)
	n := New(converter.DefaultConfig(), source, short, short, logger)
	defer func() {
		test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	}()

	sub, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)

	bad := pointcloud.New("camera_rgb_optical_frame", time.Now())
	bad.Add(pointcloud.NewVector(1.0, 0, 0.12))
	source.push(bad)

	// wait for the skip before providing the transform, so the bad frame
	// cannot sneak through on a late wake-up
	for i := 0; i < 500 && logs.FilterMessageSnippet("transform unavailable").Len() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, logs.FilterMessageSnippet("transform unavailable").Len(), test.ShouldEqual, 1)

	// now provide the transform; the next frame converts
	err = short.SendTransform(frame.StampedPose{
		Parent: converter.DefaultRefFrameID,
		Child:  "camera_rgb_optical_frame",
		Stamp:  time.Now(),
		Pose:   spatialmath.NewZeroPose(),
	})
	test.That(t, err, test.ShouldBeNil)

	good := pointcloud.New("camera_rgb_optical_frame", time.Now())
	good.Add(pointcloud.NewVector(2.0, 0, 0.12))
	source.push(good)

	out := <-sub.C
	test.That(t, out.Ranges[180], test.ShouldAlmostEqual, 2.0)
	test.That(t, sub.Close(), test.ShouldBeNil)
}

func TestSubscribeFailsWhenSourceFails(t *testing.T) {
	source := &fakeSource{subscribeErr: errors.New("sensor unplugged")}
	n := newTestNode(t, source)

	_, err := n.Subscribe()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sensor unplugged")
	test.That(t, n.SubscriberCount(), test.ShouldEqual, 0)

	// the failure leaves no half-open state behind
	source.subscribeErr = nil
	sub, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.Close(), test.ShouldBeNil)
	test.That(t, n.Close(context.Background()), test.ShouldBeNil)
}

func TestConcurrentSubscribersStayBalanced(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)

	var wait sync.WaitGroup
	for i := 0; i < 16; i++ {
		wait.Add(1)
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			for j := 0; j < 25; j++ {
				sub, err := n.Subscribe()
				test.That(t, err, test.ShouldBeNil)
				test.That(t, sub.Close(), test.ShouldBeNil)
			}
		})
	}
	wait.Wait()

	test.That(t, n.SubscriberCount(), test.ShouldEqual, 0)
	subscribes, unsubscribes, active := source.state()
	test.That(t, subscribes, test.ShouldEqual, unsubscribes)
	test.That(t, active, test.ShouldBeFalse)
	test.That(t, n.Close(context.Background()), test.ShouldBeNil)
}

func TestReconfigure(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)
	defer func() {
		test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	}()

	cfg := converter.DefaultConfig()
	cfg.OutputFrameID = "virtual_laser"
	cfg.RangeMax = 25
	n.Reconfigure(cfg)
	test.That(t, n.Config(), test.ShouldResemble, cfg)
}

func TestCloseStopsEverything(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)

	sub, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	_, unsubscribes, active := source.state()
	test.That(t, unsubscribes, test.ShouldEqual, 1)
	test.That(t, active, test.ShouldBeFalse)

	// the subscription channel is closed
	_, ok := <-sub.C
	test.That(t, ok, test.ShouldBeFalse)

	// closed nodes refuse new subscribers and close again cleanly
	_, err = n.Subscribe()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, n.Close(context.Background()), test.ShouldBeNil)
}

func TestStreamEndStopsWorker(t *testing.T) {
	source := &fakeSource{}
	n := newTestNode(t, source)

	sub, err := n.Subscribe()
	test.That(t, err, test.ShouldBeNil)

	source.mu.Lock()
	close(source.ch)
	source.mu.Unlock()

	// the worker exits on its own; detaching still unsubscribes cleanly
	test.That(t, sub.Close(), test.ShouldBeNil)
	_, unsubscribes, _ := source.state()
	test.That(t, unsubscribes, test.ShouldEqual, 1)
	test.That(t, n.Close(context.Background()), test.ShouldBeNil)
}
