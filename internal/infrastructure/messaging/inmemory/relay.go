package msginmemory

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

const subscriptionBuffer = 64

// Relay is an in-process messaging network routing signed envelopes by
// recipient pubkey. It reproduces the weak guarantees of the real
// network: delivery is unordered across senders and, with duplicates
// enabled, at-least-once.
type Relay struct {
	lock       sync.Mutex
	subs       map[string][]chan ports.Envelope
	duplicates bool
}

// NewRelay returns an empty relay.
func NewRelay() *Relay {
	return &Relay{subs: make(map[string][]chan ports.Envelope)}
}

// EnableDuplicates makes the relay deliver every envelope twice, so
// that consumers must de-duplicate by envelope id.
func (r *Relay) EnableDuplicates() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.duplicates = true
}

// NewClient returns a messaging service connected to this relay and
// identified by the given keyring.
func (r *Relay) NewClient(keys *keyring.Keyring) ports.MessagingService {
	return &client{relay: r, keys: keys}
}

func (r *Relay) publish(env ports.Envelope) {
	r.lock.Lock()
	defer r.lock.Unlock()

	deliveries := 1
	if r.duplicates {
		deliveries = 2
	}
	for _, sub := range r.subs[env.Recipient] {
		for i := 0; i < deliveries; i++ {
			select {
			case sub <- env:
			default:
				log.Warnf("dropping envelope %s, slow subscriber", env.Id)
			}
		}
	}
}

func (r *Relay) subscribe(pubkey string) chan ports.Envelope {
	r.lock.Lock()
	defer r.lock.Unlock()

	sub := make(chan ports.Envelope, subscriptionBuffer)
	r.subs[pubkey] = append(r.subs[pubkey], sub)
	return sub
}

func (r *Relay) unsubscribe(pubkey string, sub chan ports.Envelope) {
	r.lock.Lock()
	defer r.lock.Unlock()

	subs := r.subs[pubkey]
	for i := range subs {
		if subs[i] == sub {
			r.subs[pubkey] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

type client struct {
	relay *Relay
	keys  *keyring.Keyring

	lock sync.Mutex
	seq  uint64
}

func (c *client) PublicKey() string {
	return c.keys.PublicKey()
}

func (c *client) Publish(
	ctx context.Context, recipient, kind string, payload []byte,
) (string, error) {
	c.lock.Lock()
	c.seq++
	seq := c.seq
	c.lock.Unlock()

	sig, err := c.keys.Sign(sha256.Sum256(payload))
	if err != nil {
		return "", err
	}

	env := ports.Envelope{
		Id:        uuid.New().String(),
		Seq:       seq,
		Sender:    c.keys.PublicKey(),
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Signature: sig,
		Timestamp: time.Now().Unix(),
	}
	c.relay.publish(env)
	return env.Id, nil
}

func (c *client) Subscribe(ctx context.Context) (<-chan ports.Envelope, error) {
	sub := c.relay.subscribe(c.keys.PublicKey())
	go func() {
		<-ctx.Done()
		c.relay.unsubscribe(c.keys.PublicKey(), sub)
	}()
	return sub, nil
}

func (c *client) Close() error {
	return nil
}
