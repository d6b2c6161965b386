// Package node ties a point cloud source, the converter, and the scan
// publisher into one demand-driven pipeline: clouds are pulled and converted
// only while somebody is listening for scans.
package node

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/stwirth/pointcloud-to-laserscan/converter"
	"github.com/stwirth/pointcloud-to-laserscan/frame"
	"github.com/stwirth/pointcloud-to-laserscan/pointcloud"
)

// Source is a stream of point clouds that can be turned on and off.
// Subscribe starts delivery and returns the channel clouds arrive on; the
// source closes that channel if the stream ends on its own. Unsubscribe stops
// delivery and releases whatever the stream holds.
type Source interface {
	Subscribe() (<-chan *pointcloud.PointCloud, error)
	Unsubscribe() error
}

// Node runs the cloud-to-scan pipeline. Its upstream cloud subscription
// follows scan demand: the first scan subscriber turns the cloud stream on,
// the last one leaving turns it off.
type Node struct {
	logger golog.Logger
	source Source
	conv   *converter.Converter
	pub    *ScanPublisher

	mu                      sync.Mutex
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	closed                  bool
}

// New returns a Node converting clouds from source with the given config and
// frame collaborators. Nothing runs until the first scan subscriber arrives.
func New(
	cfg converter.Config,
	source Source,
	lookup frame.Lookuper,
	broadcast frame.Broadcaster,
	logger golog.Logger,
) *Node {
	n := &Node{
		logger: logger,
		source: source,
		conv:   converter.New(cfg, lookup, broadcast, logger),
	}
	n.pub = NewScanPublisher(n.start, n.stop, logger)
	return n
}

// Subscribe registers a scan consumer, turning the upstream cloud stream on
// if it was off.
func (n *Node) Subscribe() (*Subscription, error) {
	return n.pub.Subscribe()
}

// SubscriberCount reports how many scan consumers are attached.
func (n *Node) SubscriberCount() int64 {
	return n.pub.SubscriberCount()
}

// Reconfigure swaps the converter's parameter set. The scan after the swap is
// produced entirely under the new parameters.
func (n *Node) Reconfigure(cfg converter.Config) {
	n.conv.ApplyConfig(cfg)
	n.logger.Infow("reconfigured",
		"output_frame", cfg.OutputFrameID, "ref_frame", cfg.RefFrameID)
}

// Config returns the converter's current parameter set.
func (n *Node) Config() converter.Config {
	return n.conv.Config()
}

// Close stops the worker, releases the cloud stream if it is on, and closes
// every open scan subscription.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		n.activeBackgroundWorkers.Wait()
		err = multierr.Append(err, n.source.Unsubscribe())
	}
	n.pub.closeAll()
	return err
}

// start is the publisher's attach hook; it runs with no subscribers yet.
func (n *Node) start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("node is closed")
	}
	clouds, err := n.source.Subscribe()
	if err != nil {
		return errors.Wrap(err, "cannot subscribe to cloud source")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		n.run(ctx, clouds)
	}, n.activeBackgroundWorkers.Done)
	n.logger.Debug("cloud stream on")
	return nil
}

// stop is the publisher's detach hook; it runs when the last subscriber left.
func (n *Node) stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel == nil {
		return nil
	}
	n.cancel()
	n.cancel = nil
	n.activeBackgroundWorkers.Wait()
	n.logger.Debug("cloud stream off")
	return n.source.Unsubscribe()
}

func (n *Node) run(ctx context.Context, clouds <-chan *pointcloud.PointCloud) {
	for {
		select {
		case <-ctx.Done():
			return
		case cloud, ok := <-clouds:
			if !ok {
				n.logger.Info("cloud stream ended")
				return
			}
			out, err := n.conv.Convert(ctx, cloud)
			if err != nil {
				// logged inside Convert; the frame is skipped
				continue
			}
			n.pub.publish(out)
		}
	}
}
