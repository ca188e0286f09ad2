// Package keyboard runs the dispatcher loop that owns all connection
// and queue state: subscription edges, peer link changes, and pipe text
// arrive as events, and paced input reports leave through a Sink.
package keyboard

import "github.com/iprlabs/blekbd/internal/hid"

// Event is the tagged variant fed into the dispatcher loop. All state
// mutation happens inside Run, in event order; nothing touches the loop
// state from outside.
type Event interface {
	isEvent()
}

// SubscriptionEvent is a +1/-1 edge on the number of input-report
// subscribers.
type SubscriptionEvent struct {
	Delta int
}

// PeerConnected reports a new link from a host.
type PeerConnected struct {
	MAC string
}

// PeerDisconnected reports a lost link.
type PeerDisconnected struct {
	MAC string
}

// TextReceived carries decoded text read from the pipe.
type TextReceived struct {
	Text string
}

func (SubscriptionEvent) isEvent() {}
func (PeerConnected) isEvent()     {}
func (PeerDisconnected) isEvent()  {}
func (TextReceived) isEvent()      {}

// Sink is where encoded report frames leave the loop. SendReport
// returns false when no host is subscribed; the frame is then not
// consumed and the loop keeps its text queued.
type Sink interface {
	SendReport(rep hid.Report) bool
}
