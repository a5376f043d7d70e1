package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// FeedHandler receives decoded inbound events. Handlers are invoked
// synchronously from the feed's single read loop, which preserves the
// transport's per-user message ordering.
type FeedHandler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleSystemEvent(ctx context.Context, ev SystemEvent)
}

// FeedConfig holds settings for the event-stream connection.
type FeedConfig struct {
	URL           string        // ws:// or wss:// endpoint of the transport's event stream
	DialTimeout   time.Duration // handshake timeout
	ReconnectWait time.Duration // delay before re-dialing after a drop
}

// DefaultFeedConfig returns sensible defaults. URL must still be provided.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		DialTimeout:   10 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// Feed consumes the chat transport's WebSocket event stream and dispatches
// each frame to the handler. It reconnects with a fixed backoff until the
// context is canceled.
type Feed struct {
	config  FeedConfig
	handler FeedHandler
}

// NewFeed creates a feed delivering events to handler.
func NewFeed(config FeedConfig, handler FeedHandler) *Feed {
	return &Feed{config: config, handler: handler}
}

// Run connects and reads events until ctx is canceled. Connection drops are
// logged and followed by a reconnect; Run only returns on cancellation.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[feed] connection lost: %v (reconnecting in %s)", err, f.config.ReconnectWait)
		}

		select {
		case <-ctx.Done():
			log.Printf("[feed] stopped")
			return
		case <-time.After(f.config.ReconnectWait):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.config.DialTimeout)
	dialer := ws.Dialer{Timeout: f.config.DialTimeout}
	conn, br, _, err := dialer.Dial(dialCtx, f.config.URL)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", f.config.URL)

	// Close the connection when the context is canceled so the blocked
	// read below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The dialer may hand back a buffered reader holding frames that
	// arrived with the handshake; drain it before reading the conn.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return err
		}
		if op != ws.OpText {
			continue
		}
		f.dispatch(ctx, data)
	}
}

func (f *Feed) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[feed] bad frame: %v", err)
		return
	}

	switch env.Type {
	case EventMessage:
		var msg InboundMessage
		if err := json.Unmarshal(env.Raw, &msg); err != nil {
			log.Printf("[feed] bad message event: %v", err)
			return
		}
		f.handler.HandleMessage(ctx, msg)

	case EventSystem:
		var ev SystemEvent
		if err := json.Unmarshal(env.Raw, &ev); err != nil {
			log.Printf("[feed] bad system event: %v", err)
			return
		}
		f.handler.HandleSystemEvent(ctx, ev)

	default:
		log.Printf("[feed] unknown event type %q", env.Type)
	}
}
