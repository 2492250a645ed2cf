package escrow

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

const (
	// messageCacheSize bounds the number of out-of-stage messages kept
	// around. The messaging network makes few delivery guarantees, a
	// message for a later stage can arrive before the one currently
	// awaited.
	messageCacheSize = 10

	defaultPublishAttempts  = 3
	defaultPublishBaseDelay = 500 * time.Millisecond
	maxPublishDelay         = 5 * time.Second
)

// messenger scopes a messaging subscription to one trade session. It
// de-duplicates envelopes, caches messages that belong to a stage other
// than the awaited one and retries failed publications with capped
// exponential backoff before surfacing a transport error.
type messenger struct {
	svc    ports.MessagingService
	events <-chan ports.Envelope

	seen  map[string]struct{}
	cache []ports.Envelope

	publishAttempts  int
	publishBaseDelay time.Duration
}

func newMessenger(ctx context.Context, svc ports.MessagingService) (*messenger, error) {
	events, err := svc.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return &messenger{
		svc:              svc,
		events:           events,
		seen:             make(map[string]struct{}),
		publishAttempts:  defaultPublishAttempts,
		publishBaseDelay: defaultPublishBaseDelay,
	}, nil
}

// send signs and publishes a protocol message, retrying transient
// transport failures before giving up with domain.ErrTransport.
func (m *messenger) send(
	ctx context.Context, recipient, kind string, msg interface{},
) (string, error) {
	payload := marshalMessage(msg)

	delay := m.publishBaseDelay
	var lastErr error
	for attempt := 0; attempt < m.publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			if delay *= 2; delay > maxPublishDelay {
				delay = maxPublishDelay
			}
		}

		id, err := m.svc.Publish(ctx, recipient, kind, payload)
		if err == nil {
			return id, nil
		}
		lastErr = err
		log.WithError(err).Warnf(
			"failed to publish %s message, attempt %d of %d",
			kind, attempt+1, m.publishAttempts,
		)
	}
	log.WithError(lastErr).Errorf("giving up publishing %s message", kind)
	return "", domain.ErrTransport
}

// await suspends until an envelope of one of the wanted kinds arrives,
// the deadline elapses or the context is cancelled. Replayed envelopes
// are dropped, envelopes of other kinds are cached for later stages.
func (m *messenger) await(
	ctx context.Context, deadline time.Duration, kinds ...string,
) (*ports.Envelope, error) {
	if env := m.fromCache(kinds); env != nil {
		return env, nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-m.events:
			if !ok {
				return nil, domain.ErrTransport
			}
			if _, replayed := m.seen[env.Id]; replayed {
				continue
			}
			m.seen[env.Id] = struct{}{}

			if matchKind(env.Kind, kinds) {
				return &env, nil
			}
			log.Tracef("caching out-of-stage %s message %s", env.Kind, env.Id)
			if len(m.cache) == messageCacheSize {
				m.cache = m.cache[1:]
			}
			m.cache = append(m.cache, env)
		case <-timer.C:
			return nil, domain.ErrDeadlineElapsed
		case <-ctx.Done():
			return nil, domain.ErrSessionAborted
		}
	}
}

func (m *messenger) fromCache(kinds []string) *ports.Envelope {
	for i := range m.cache {
		if matchKind(m.cache[i].Kind, kinds) {
			env := m.cache[i]
			m.cache = append(m.cache[:i], m.cache[i+1:]...)
			return &env
		}
	}
	return nil
}

func matchKind(kind string, kinds []string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
