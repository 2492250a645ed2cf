package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrContractNullAmount is thrown when creating a contract with a zero amount
	ErrContractNullAmount = errors.New("contract amount must be greater than zero")
	// ErrContractNullTimeLimit is thrown when creating a contract with a zero time limit
	ErrContractNullTimeLimit = errors.New("contract time limit must be greater than zero")
	// ErrContractNullIdentity is thrown when any messaging identity is missing
	ErrContractNullIdentity = errors.New("contract messaging identities must not be null")
	// ErrContractIdentityReuse is thrown when two of the three messaging identities coincide
	ErrContractIdentityReuse = errors.New("buyer, seller and coordinator identities must be distinct")
	// ErrContractMissingEcashIdentities ...
	ErrContractMissingEcashIdentities = errors.New("both ecash identities must be known before the token exchange")
	// ErrContractMismatch is thrown when the counterparty acknowledged a different contract hash
	ErrContractMismatch = errors.New("counterparty acknowledged a different contract")

	// ErrStageAlreadyAdvanced is thrown when a one-shot stage operation is invoked twice
	ErrStageAlreadyAdvanced = errors.New("stage operation was already executed for this session")
	// ErrSessionMustBeCreated ...
	ErrSessionMustBeCreated = errors.New("session must be in the created stage to perform this operation")
	// ErrSessionMustBeRegistered ...
	ErrSessionMustBeRegistered = errors.New("session must be registered to perform this operation")
	// ErrSessionMustBeTokenExchanged ...
	ErrSessionMustBeTokenExchanged = errors.New("session must have exchanged the trade token to perform this operation")
	// ErrSessionMustBeDutiesFulfilled ...
	ErrSessionMustBeDutiesFulfilled = errors.New("session duties must be fulfilled to perform this operation")
	// ErrSessionMustBeDisputed ...
	ErrSessionMustBeDisputed = errors.New("session must be disputed to be resolved")
	// ErrSessionTerminal is thrown on any operation against a session in a terminal stage
	ErrSessionTerminal = errors.New("session reached a terminal stage, no further operations permitted")
	// ErrSessionNotExpirable is thrown when expiring a session in a stage whose timeout outcome is not Expired
	ErrSessionNotExpirable = errors.New("session cannot expire in its current stage")

	// ErrDeadlineElapsed is thrown when a counterparty message does not arrive in time
	ErrDeadlineElapsed = errors.New("deadline elapsed while waiting for counterparty")
	// ErrSessionAborted is thrown when the local party explicitly aborts a suspended session
	ErrSessionAborted = errors.New("session aborted by local party")

	// ErrMintUnreachable is thrown when the mint authority cannot be reached after bounded retries
	ErrMintUnreachable = errors.New("mint authority is unreachable")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("wallet balance is not enough to mint the trade token")
	// ErrTokenAlreadySpent ...
	ErrTokenAlreadySpent = errors.New("token has already been redeemed with the mint")
	// ErrTransport is thrown when publishing to the messaging network fails after bounded retries
	ErrTransport = errors.New("messaging transport failure")

	// ErrRulingBadSignature is thrown when a coordinator ruling carries an invalid signature
	ErrRulingBadSignature = errors.New("coordinator ruling signature is not valid")
)

// TokenInvalidReason qualifies a token verification failure.
type TokenInvalidReason int

const (
	TokenInvalidAmountMismatch TokenInvalidReason = iota
	TokenInvalidAlreadySpent
	TokenInvalidUnknownMint
	TokenInvalidMalformed
	TokenInvalidWrongLock
)

func (r TokenInvalidReason) String() string {
	switch r {
	case TokenInvalidAmountMismatch:
		return "amount mismatch"
	case TokenInvalidAlreadySpent:
		return "already spent"
	case TokenInvalidUnknownMint:
		return "unknown mint"
	case TokenInvalidWrongLock:
		return "wrong spending conditions"
	default:
		return "malformed token"
	}
}

// TokenInvalidError is returned by the token exchange verifier when a
// received token does not satisfy the contract conditions.
type TokenInvalidError struct {
	Reason TokenInvalidReason
	Detail string
}

func (e *TokenInvalidError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("token invalid: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("token invalid: %s", e.Reason)
}
