package domain

const (
	SessionStageCodeCreated = iota
	SessionStageCodeRegistered
	SessionStageCodeTokenExchanged
	SessionStageCodeDutiesFulfilled
	SessionStageCodeCompleted
	SessionStageCodeDisputed
	SessionStageCodeRefunded
	SessionStageCodeReleased
	SessionStageCodeExpired

	// DefaultDisputeCeilingFactor is the multiple of the contract time
	// limit after which a disputed session waiting for a coordinator
	// ruling gives up and expires.
	DefaultDisputeCeilingFactor = 3
)

// Role determines which protocol actions are permitted to the local
// party at each stage of a trade session.
type Role int

const (
	RoleBuyer Role = iota
	RoleSeller
	RoleCoordinator
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}
