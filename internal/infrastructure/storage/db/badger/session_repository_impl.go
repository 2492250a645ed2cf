package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

var (
	// ErrSessionNotFound ...
	ErrSessionNotFound = errors.New("session not found")
)

type sessionRepositoryImpl struct {
	store *badgerhold.Store
}

func newSessionRepositoryImpl(store *badgerhold.Store) domain.SessionRepository {
	return sessionRepositoryImpl{store}
}

func (r sessionRepositoryImpl) AddSession(
	ctx context.Context, session *domain.TradeSession,
) error {
	return r.store.Insert(session.Id, *session)
}

func (r sessionRepositoryImpl) GetSession(
	ctx context.Context, id string,
) (*domain.TradeSession, error) {
	var session domain.TradeSession
	if err := r.store.Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r sessionRepositoryImpl) GetSessionByContractHash(
	ctx context.Context, hashHex string,
) (*domain.TradeSession, error) {
	sessions, err := r.GetAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.Contract.HashHex() == hashHex {
			return session, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r sessionRepositoryImpl) GetAllSessions(
	ctx context.Context,
) ([]*domain.TradeSession, error) {
	var list []domain.TradeSession
	if err := r.store.Find(&list, nil); err != nil {
		return nil, err
	}
	sessions := make([]*domain.TradeSession, 0, len(list))
	for i := range list {
		sessions = append(sessions, &list[i])
	}
	return sessions, nil
}

func (r sessionRepositoryImpl) UpdateSession(
	ctx context.Context, id string,
	updateFn func(s *domain.TradeSession) (*domain.TradeSession, error),
) error {
	currentSession, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}

	updatedSession, err := updateFn(currentSession)
	if err != nil {
		return err
	}

	return r.store.Update(id, *updatedSession)
}
