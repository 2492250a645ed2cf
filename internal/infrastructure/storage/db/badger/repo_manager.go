package dbbadger

import (
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

type repoManager struct {
	store       *badgerhold.Store
	sessionRepo domain.SessionRepository
}

// NewRepoManager opens (or creates if missing) the badger store holding
// the session audit log. An empty dbDir opens an in-memory store.
func NewRepoManager(dbDir string, logger badger.Logger) (ports.RepoManager, error) {
	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, err
	}

	return &repoManager{
		store:       store,
		sessionRepo: newSessionRepositoryImpl(store),
	}, nil
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepo
}

func (m *repoManager) Close() {
	m.store.Close()
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for {
				<-ticker.C
				if err := db.Badger().RunValueLogGC(0.5); err != nil &&
					err != badger.ErrNoRewrite {
					log.Error(err)
				}
			}
		}()
	}

	return db, nil
}
