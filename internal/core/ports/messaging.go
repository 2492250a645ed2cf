package ports

import "context"

// Envelope is a signed, addressed event yielded by a messaging
// subscription. Payloads containing amounts or tokens are encrypted to
// the recipient by the transport; by the time an envelope is delivered
// its payload is cleartext and its signature has been verified against
// the sender pubkey.
type Envelope struct {
	// Id is the transport-assigned event id, unique per publication.
	Id string
	// Seq is a per-sender monotonic sequence number used for replay
	// detection and deterministic evidence ordering.
	Seq uint64
	// Sender and Recipient are messaging pubkeys.
	Sender    string
	Recipient string
	// Kind tags the protocol message carried by Payload.
	Kind string
	// Payload is the JSON-encoded protocol message.
	Payload []byte
	// Signature is the sender's signature over the payload.
	Signature []byte
	// Timestamp is the publication unix time.
	Timestamp int64
}

// MessagingService is the boundary towards the publish/subscribe
// messaging network. Delivery is at-least-once and unordered, callers
// must de-duplicate and must not assume ordering across senders.
type MessagingService interface {
	// PublicKey returns the messaging pubkey of the local identity.
	PublicKey() string
	// Publish signs and publishes an event addressed to the recipient
	// pubkey, returning the event id. Transient failures are retried
	// inside the transport before domain.ErrTransport is surfaced.
	Publish(ctx context.Context, recipient, kind string, payload []byte) (string, error)
	// Subscribe returns a channel of authenticated envelopes addressed
	// to the local identity. The channel is closed when the context is
	// cancelled or the service is closed.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	// Close tears down the transport connection.
	Close() error
}
