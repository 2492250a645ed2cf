package msgrelay

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

const (
	// publishRate caps outgoing events per second, relays ban chatty
	// clients.
	publishRate        = 10
	subscriptionBuffer = 64

	// a relay restart closes our connection before the new listener is
	// bound, the subscription re-dials within this window
	reconnectAttempts = 5
	reconnectDelay    = 200 * time.Millisecond
)

var errClientClosed = fmt.Errorf("client is closed")

type client struct {
	relayUrl string
	keys     *keyring.Keyring
	limiter  ratelimit.Limiter

	lock   sync.Mutex
	conn   *websocket.Conn
	closed bool
	seq    uint64
}

// NewClient connects to a relay server and returns a messaging service
// identified by the given keyring.
func NewClient(relayAddr string, keys *keyring.Keyring) (ports.MessagingService, error) {
	if keys == nil {
		return nil, fmt.Errorf("missing identity keys")
	}
	c := &client{
		relayUrl: fmt.Sprintf("ws://%s/?pubkey=%s", relayAddr, keys.PublicKey()),
		keys:     keys,
		limiter:  ratelimit.New(publishRate),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect must be called with c.lock held, except from NewClient.
func (c *client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.relayUrl, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *client) current() *websocket.Conn {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn
}

// reconnect re-dials the relay if the given conn is still the current
// one. Concurrent callers reuse the replacement made by the first.
func (c *client) reconnect(stale *websocket.Conn) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return errClientClosed
	}
	if c.conn != stale {
		return nil
	}
	return c.connect()
}

func (c *client) reconnectWithRetry(
	ctx context.Context, stale *websocket.Conn,
) error {
	var err error
	for attempt := 0; attempt < reconnectAttempts; attempt++ {
		if err = c.reconnect(stale); err == nil || err == errClientClosed {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
	return err
}

func (c *client) PublicKey() string {
	return c.keys.PublicKey()
}

func (c *client) Publish(
	ctx context.Context, recipient, kind string, payload []byte,
) (string, error) {
	c.limiter.Take()

	sig, err := c.keys.Sign(sha256.Sum256(payload))
	if err != nil {
		return "", err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.seq++
	env := ports.Envelope{
		Id:        uuid.New().String(),
		Seq:       c.seq,
		Sender:    c.keys.PublicKey(),
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Signature: sig,
		Timestamp: time.Now().Unix(),
	}

	if err := c.conn.WriteJSON(env); err != nil {
		// one reconnection attempt before surfacing a transport error
		log.WithError(err).Warn("relay write failed, reconnecting")
		if rerr := c.connect(); rerr != nil {
			return "", domain.ErrTransport
		}
		if werr := c.conn.WriteJSON(env); werr != nil {
			return "", domain.ErrTransport
		}
	}
	return env.Id, nil
}

func (c *client) Subscribe(ctx context.Context) (<-chan ports.Envelope, error) {
	events := make(chan ports.Envelope, subscriptionBuffer)

	go func() {
		defer close(events)
		for {
			conn := c.current()
			var env ports.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if ctx.Err() != nil {
					return
				}
				// the relay dropped us or Publish swapped the
				// connection under our feet, resume on a live one
				if rerr := c.reconnectWithRetry(ctx, conn); rerr != nil {
					if rerr != errClientClosed {
						log.WithError(err).Warn("relay subscription closed")
					}
					return
				}
				continue
			}
			if env.Recipient != c.keys.PublicKey() {
				continue
			}
			if !keyring.Verify(env.Sender, sha256.Sum256(env.Payload), env.Signature) {
				log.Warnf("dropping envelope %s with invalid signature", env.Id)
				continue
			}
			select {
			case events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	return events, nil
}

func (c *client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return c.conn.Close()
}
