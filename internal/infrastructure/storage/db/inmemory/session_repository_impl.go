package dbinmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

var (
	// ErrSessionNotFound ...
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists ...
	ErrSessionAlreadyExists = errors.New("session already stored")
)

type repoManager struct {
	sessionRepo domain.SessionRepository
}

// NewRepoManager returns a volatile repo manager, handy for tests and
// demos.
func NewRepoManager() ports.RepoManager {
	return &repoManager{newSessionRepositoryImpl()}
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepo
}

func (m *repoManager) Close() {}

type sessionRepositoryImpl struct {
	lock     *sync.RWMutex
	sessions map[string]domain.TradeSession
}

func newSessionRepositoryImpl() domain.SessionRepository {
	return &sessionRepositoryImpl{
		lock:     &sync.RWMutex{},
		sessions: make(map[string]domain.TradeSession),
	}
}

func (r *sessionRepositoryImpl) AddSession(
	ctx context.Context, session *domain.TradeSession,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.sessions[session.Id]; ok {
		return ErrSessionAlreadyExists
	}
	r.sessions[session.Id] = *session
	return nil
}

func (r *sessionRepositoryImpl) GetSession(
	ctx context.Context, id string,
) (*domain.TradeSession, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (r *sessionRepositoryImpl) GetSessionByContractHash(
	ctx context.Context, hashHex string,
) (*domain.TradeSession, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, session := range r.sessions {
		if session.Contract.HashHex() == hashHex {
			found := session
			return &found, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *sessionRepositoryImpl) GetAllSessions(
	ctx context.Context,
) ([]*domain.TradeSession, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sessions := make([]*domain.TradeSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		found := session
		sessions = append(sessions, &found)
	}
	return sessions, nil
}

func (r *sessionRepositoryImpl) UpdateSession(
	ctx context.Context, id string,
	updateFn func(s *domain.TradeSession) (*domain.TradeSession, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	currentSession, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	updatedSession, err := updateFn(&currentSession)
	if err != nil {
		return err
	}

	r.sessions[id] = *updatedSession
	return nil
}
