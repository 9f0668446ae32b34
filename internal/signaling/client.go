package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quietwire/wormhole/internal/util"
)

// Reconnect backoff bounds (spec §7): infinite attempts, exponential
// backoff capped at 5s.
const (
	reconnectInitialDelay = 250 * time.Millisecond
	reconnectMaxDelay     = 5 * time.Second
)

// Link is the peer-side half of the signaling connection: dial once, then
// exchange Envelopes over Recv/Send until the link is closed. It plays the
// same role as the teacher's bare *websocket.Conn returned from Connect, but
// owns a read pump and an error so callers never touch gorilla/websocket
// directly. Unlike the teacher's connection, an unexpected drop triggers an
// automatic redial with capped exponential backoff rather than a terminal
// error, since the signaling relay is expected to outlive any one transfer.
type Link struct {
	ctx context.Context
	url string

	incoming chan Envelope
	done     chan struct{}

	mu          sync.Mutex
	conn        *websocket.Conn
	err         error
	closed      bool
	onReconnect func()
	closeOnce   sync.Once
}

// Dial connects to a signaling endpoint, e.g.
// "wss://relay.example.com/ws". ctx governs both the initial dial and every
// later reconnect attempt; it should live for the lifetime of the Link.
func Dial(ctx context.Context, url string) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}

	l := &Link{
		ctx:      ctx,
		url:      url,
		conn:     conn,
		incoming: make(chan Envelope, 16),
		done:     make(chan struct{}),
	}
	go l.readPump()
	return l, nil
}

// OnReconnect registers fn to run after the link transparently redials
// following an unexpected disconnect. It is never invoked for the initial
// Dial. Callers use this to re-assert room membership (spec §4.10/C10).
func (l *Link) OnReconnect(fn func()) {
	l.mu.Lock()
	l.onReconnect = fn
	l.mu.Unlock()
}

func (l *Link) currentConn() *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *Link) readPump() {
	defer close(l.incoming)
	for {
		conn := l.currentConn()
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if l.redial() {
				continue
			}
			l.fail(err)
			return
		}
		select {
		case l.incoming <- env:
		case <-l.done:
			return
		}
	}
}

// redial blocks, retrying the dial with capped exponential backoff, until
// it installs a fresh connection, the link is closed, or ctx is done. It
// reports whether a new connection was installed.
func (l *Link) redial() bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}

	delay := reconnectInitialDelay
	for {
		select {
		case <-l.done:
			return false
		case <-l.ctx.Done():
			return false
		case <-time.After(delay):
		}

		conn, _, err := websocket.DefaultDialer.DialContext(l.ctx, l.url, nil)
		if err != nil {
			util.LogWarning("signaling: reconnect to %s failed, retrying in %s: %v", l.url, delay, err)
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.err = nil
		fn := l.onReconnect
		l.mu.Unlock()

		util.LogInfo("signaling: reconnected to %s", l.url)
		if fn != nil {
			fn()
		}
		return true
	}
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

// Recv returns the channel of envelopes arriving from the relay. It is
// closed when the link fails permanently or is closed.
func (l *Link) Recv() <-chan Envelope {
	return l.incoming
}

// Send writes env to the relay. Safe to call concurrently with Recv, but not
// safe to call concurrently with itself — callers own a single writer. A
// transient write failure during a reconnect is reported to the caller but
// does not tear down the link; the read pump's own redial loop recovers the
// connection independently.
func (l *Link) Send(env Envelope) error {
	conn := l.currentConn()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("signaling: send %s: %w", env.Type, err)
	}
	return nil
}

// Err returns the error that ended the link, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close shuts down the underlying connection and stops any in-progress
// redial loop.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conn := l.conn
		l.mu.Unlock()
		close(l.done)
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
