package mqtt

import "errors"

// Publisher is the part of Client the Broadcaster needs.
type Publisher interface {
	PublishAsync(topic string, payload []byte, qos byte, retained bool) error
}

// Broadcaster republishes per-controller telemetry to
// <prefix>/controller/<name>/state. It satisfies the simulator's
// broadcaster contract.
type Broadcaster struct {
	pub      Publisher
	topics   Topics
	qos      byte
	retained bool
}

// NewBroadcaster creates a Broadcaster publishing through c with the
// client's prefix and QoS. Messages are retained so a new subscriber sees
// the latest reading at once.
func NewBroadcaster(c *Client) *Broadcaster {
	return &Broadcaster{
		pub:      c,
		topics:   c.Topics(),
		qos:      c.QoS(),
		retained: true,
	}
}

// Broadcast queues payload for the controller's state topic without waiting
// for the broker.
//
// Readings produced while the broker is away are dropped silently; the lost
// connection is already logged once by the client and the next tick
// supersedes them.
func (b *Broadcaster) Broadcast(controller string, payload []byte) error {
	err := b.pub.PublishAsync(b.topics.ControllerState(controller), payload, b.qos, b.retained)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}
