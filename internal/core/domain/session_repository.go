package domain

import "context"

// SessionRepository is the abstraction for any kind of database
// intended to persist trade sessions for audit and dispute evidence.
type SessionRepository interface {
	// AddSession persists a newly created session.
	AddSession(ctx context.Context, session *TradeSession) error
	// GetSession returns the session with the given id.
	GetSession(ctx context.Context, id string) (*TradeSession, error)
	// GetSessionByContractHash returns the session matching the given
	// contract hash, if any.
	GetSessionByContractHash(ctx context.Context, hashHex string) (*TradeSession, error)
	// GetAllSessions returns all the sessions stored in the repository.
	GetAllSessions(ctx context.Context) ([]*TradeSession, error)
	// UpdateSession allows to commit multiple changes to the same session
	// in a transactional way.
	UpdateSession(
		ctx context.Context, id string,
		updateFn func(s *TradeSession) (*TradeSession, error),
	) error
}
