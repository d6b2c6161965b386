// Package ros bridges recorded ROS data into the conversion pipeline: it
// reads point cloud topics out of rosbag files and replays them as a live
// cloud source.
package ros

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/gobag/rosbag"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/stwirth/pointcloud-to-laserscan/pointcloud"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to read ros bag")
	}
	return rb, nil
}

// CloudsForTopic decodes every point cloud message on the given topic, in
// recorded order.
func CloudsForTopic(rb *rosbag.RosBag, topic string) ([]*pointcloud.PointCloud, error) {
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return t == topic },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[topic]
	if msgs == nil {
		return nil, errors.Errorf("no messages for topic %s", topic)
	}

	var clouds []*pointcloud.PointCloud
	for {
		data, err := msgs.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		var message PointCloudMessage
		if err := json.Unmarshal(data, &message); err != nil {
			return nil, errors.Wrapf(err, "malformed cloud message on %s", topic)
		}
		cloud, err := message.PointCloud()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot decode cloud message on %s", topic)
		}
		clouds = append(clouds, cloud)
	}
	return clouds, nil
}

// BagSource replays the point clouds of one recorded topic at their original
// cadence. It satisfies the pipeline's cloud source contract: Subscribe
// starts (or restarts) the replay from the beginning, Unsubscribe stops it.
type BagSource struct {
	logger golog.Logger
	clock  clock.Clock
	clouds []*pointcloud.PointCloud

	mu      sync.Mutex
	cancel  func()
	workers sync.WaitGroup
}

// NewBagSource reads the given topic out of the bag at filename.
func NewBagSource(filename, topic string, logger golog.Logger) (*BagSource, error) {
	rb, err := ReadBag(filename)
	if err != nil {
		return nil, err
	}
	clouds, err := CloudsForTopic(rb, topic)
	if err != nil {
		return nil, err
	}
	logger.Infow("loaded bag", "file", filename, "topic", topic, "clouds", len(clouds))
	return &BagSource{logger: logger, clock: clock.New(), clouds: clouds}, nil
}

// Subscribe starts replaying from the first recorded cloud. The returned
// channel closes when the recording runs out.
func (s *BagSource) Subscribe() (<-chan *pointcloud.PointCloud, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, errors.New("replay already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	ch := make(chan *pointcloud.PointCloud)
	s.workers.Add(1)
	goutils.ManagedGo(func() {
		s.replay(ctx, ch)
	}, s.workers.Done)
	return ch, nil
}

// Unsubscribe stops an in-flight replay. Calling it with no replay running is
// harmless.
func (s *BagSource) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.workers.Wait()
	return nil
}

func (s *BagSource) replay(ctx context.Context, ch chan<- *pointcloud.PointCloud) {
	defer close(ch)
	var prev time.Time
	for i, cloud := range s.clouds {
		if i > 0 {
			if gap := cloud.Stamp.Sub(prev); gap > 0 {
				select {
				case <-ctx.Done():
					return
				case <-s.clock.After(gap):
				}
			}
		}
		prev = cloud.Stamp
		select {
		case <-ctx.Done():
			return
		case ch <- cloud:
		}
	}
	s.logger.Debug("replay finished")
}
