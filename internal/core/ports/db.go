package ports

import "github.com/escrow-network/escrowd/internal/core/domain"

// RepoManager gives access to the session store and manages its
// lifecycle.
type RepoManager interface {
	SessionRepository() domain.SessionRepository

	Close()
}
