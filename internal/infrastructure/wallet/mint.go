package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thanhpk/randstr"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// MintAuthority is an in-process mint issuing and redeeming bearer
// tokens against wallet balances. It enforces the two properties the
// escrow protocol relies on: a token is redeemable at most once, and
// only by the party its spending condition pays to.
type MintAuthority struct {
	url string

	lock        sync.Mutex
	balances    map[string]uint64
	tokens      map[string]*mintedToken
	unreachable bool
}

type mintedToken struct {
	token ports.Token
	spent bool
}

// NewMintAuthority returns a mint identified by the given URL.
func NewMintAuthority(url string) *MintAuthority {
	return &MintAuthority{
		url:      url,
		balances: make(map[string]uint64),
		tokens:   make(map[string]*mintedToken),
	}
}

// Url returns the mint identifier.
func (m *MintAuthority) Url() string {
	return m.url
}

// Fund credits the balance of a wallet pubkey.
func (m *MintAuthority) Fund(pubkey string, amount uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.balances[pubkey] += amount
}

// Balance returns the spendable balance of a wallet pubkey.
func (m *MintAuthority) Balance(pubkey string) uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.balances[pubkey]
}

// SetUnreachable makes every following call fail with
// domain.ErrMintUnreachable until reset. Used to exercise the bounded
// retry policy of the callers.
func (m *MintAuthority) SetUnreachable(unreachable bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.unreachable = unreachable
}

func (m *MintAuthority) mint(
	owner string, amount uint64, lock ports.TokenLock,
) (*ports.Token, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.unreachable {
		return nil, domain.ErrMintUnreachable
	}
	if m.balances[owner] < amount {
		return nil, domain.ErrInsufficientFunds
	}

	m.balances[owner] -= amount
	token := ports.Token{
		Id:       uuid.New().String(),
		Amount:   amount,
		Mint:     m.url,
		LockedTo: lock.LockedTo,
		RefundTo: lock.RefundTo,
		Secret:   randstr.Hex(32),
	}
	m.tokens[token.Id] = &mintedToken{token: token}
	return &token, nil
}

func (m *MintAuthority) verifyRedeemable(token *ports.Token) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.unreachable {
		return false, domain.ErrMintUnreachable
	}
	minted, ok := m.tokens[token.Id]
	if !ok {
		return false, nil
	}
	if minted.token.Secret != token.Secret ||
		minted.token.Amount != token.Amount ||
		minted.token.LockedTo != token.LockedTo {
		return false, nil
	}
	return !minted.spent, nil
}

func (m *MintAuthority) redeem(
	redeemer string, token *ports.Token,
) (*ports.Receipt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.unreachable {
		return nil, domain.ErrMintUnreachable
	}
	minted, ok := m.tokens[token.Id]
	if !ok || minted.token.Secret != token.Secret {
		return nil, fmt.Errorf("unknown token %s", token.Id)
	}
	if minted.spent {
		return nil, domain.ErrTokenAlreadySpent
	}
	if redeemer != minted.token.LockedTo {
		return nil, fmt.Errorf("token is not spendable by %s", redeemer)
	}

	minted.spent = true
	m.balances[redeemer] += minted.token.Amount
	return &ports.Receipt{
		Id:         uuid.New().String(),
		TokenId:    token.Id,
		Amount:     minted.token.Amount,
		RedeemedAt: time.Now().Unix(),
	}, nil
}
