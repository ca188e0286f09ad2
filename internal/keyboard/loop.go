package keyboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/iprlabs/blekbd/internal/fifo"
	"github.com/iprlabs/blekbd/internal/hid"
)

// Options configures the dispatcher loop.
type Options struct {
	Keymap        hid.Keymap
	QueueSize     int           // max buffered runes while no host is subscribed
	PressHold     time.Duration // press frame -> release frame
	ReleaseSettle time.Duration // release frame -> next press
}

// Loop is the single owner of keyboard state. Events go in through
// Post; frames come out through the Sink, paced and only while a host
// is subscribed.
type Loop struct {
	sink         Sink
	flag         *fifo.Flag
	onDisconnect func(mac string)
	opts         Options
	events       chan Event

	// Owned by Run; never touched from other goroutines.
	subscribers int
	queue       []rune
	links       map[string]bool
}

// New builds a loop. onDisconnect runs inside the dispatcher whenever a
// peer link drops, after subscription state has been cleared; wire
// advertising re-arm and pairing-agent cleanup through it.
func New(sink Sink, flag *fifo.Flag, onDisconnect func(mac string), opts Options) *Loop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	return &Loop{
		sink:         sink,
		flag:         flag,
		onDisconnect: onDisconnect,
		opts:         opts,
		events:       make(chan Event, 256),
		links:        make(map[string]bool),
	}
}

// Post feeds an event into the loop. Safe from any goroutine.
func (l *Loop) Post(ev Event) {
	l.events <- ev
}

// PostText is the pipe reader's sink.
func (l *Loop) PostText(text string) {
	if text != "" {
		l.Post(TextReceived{Text: text})
	}
}

// SubscriptionEdge is the GATT layer's notify hook.
func (l *Loop) SubscriptionEdge(delta int) {
	l.Post(SubscriptionEvent{Delta: delta})
}

// Run dispatches events until ctx is cancelled. It clears the readiness
// flag on the way out so producers never see a stale "ready".
func (l *Loop) Run(ctx context.Context) error {
	defer l.clearFlag()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.events:
			l.handle(ev)
		}
	}
}

func (l *Loop) handle(ev Event) {
	switch e := ev.(type) {
	case SubscriptionEvent:
		before := l.subscribers
		l.subscribers += e.Delta
		if l.subscribers < 0 {
			l.subscribers = 0
		}
		if before == 0 && l.subscribers > 0 {
			slog.Info("[kbd] host subscribed, reports enabled")
			l.setFlag()
			l.drain()
		} else if before > 0 && l.subscribers == 0 {
			slog.Info("[kbd] last subscriber gone, reports disabled")
			l.clearFlag()
		}

	case PeerConnected:
		l.links[e.MAC] = true
		slog.Info("[kbd] peer connected", "mac", e.MAC, "links", len(l.links))

	case PeerDisconnected:
		delete(l.links, e.MAC)
		slog.Info("[kbd] peer disconnected", "mac", e.MAC, "links", len(l.links))
		// The flag must vanish within this dispatch even if the
		// StopNotify edges are still in flight.
		l.subscribers = 0
		l.clearFlag()
		if l.onDisconnect != nil {
			l.onDisconnect(e.MAC)
		}

	case TextReceived:
		l.enqueue(e.Text)
		if l.subscribers > 0 {
			l.drain()
		}
	}
}

// enqueue appends runes under the queue bound, dropping the oldest
// buffered text when a host stays away too long.
func (l *Loop) enqueue(text string) {
	for _, r := range text {
		if len(l.queue) >= l.opts.QueueSize {
			slog.Warn("[kbd] queue full, dropping oldest rune", "capacity", l.opts.QueueSize)
			l.queue = l.queue[1:]
		}
		l.queue = append(l.queue, r)
	}
}

// drain types queued runes until the queue empties or the subscriber
// goes away mid-stream. One rune's full frame sequence completes before
// the next rune starts; the inter-frame sleeps are the loop's pacing.
func (l *Loop) drain() {
	for len(l.queue) > 0 {
		r := l.queue[0]

		frames, err := l.opts.Keymap.Encode(r)
		if err != nil {
			slog.Warn("[kbd] dropping unsupported character", "rune", string(r))
			l.queue = l.queue[1:]
			continue
		}

		for _, f := range frames {
			if !l.sink.SendReport(f) {
				// Subscriber vanished; the rune stays queued for the
				// next subscription edge.
				return
			}
			if f.IsRelease() {
				time.Sleep(l.opts.ReleaseSettle)
			} else {
				time.Sleep(l.opts.PressHold)
			}
		}
		l.queue = l.queue[1:]
	}
}

func (l *Loop) setFlag() {
	if l.flag == nil {
		return
	}
	if err := l.flag.Set(); err != nil {
		slog.Error("[kbd] readiness flag set failed", "err", err)
	}
}

func (l *Loop) clearFlag() {
	if l.flag == nil {
		return
	}
	if err := l.flag.Clear(); err != nil {
		slog.Error("[kbd] readiness flag clear failed", "err", err)
	}
}
