package domain

import "sort"

// Evidence is a single signed protocol message collected during a
// session, kept for possible dispute arbitration.
type Evidence struct {
	Seq       uint64 `json:"seq"`
	Stage     int    `json:"stage"`
	Sender    string `json:"sender"`
	Kind      string `json:"kind"`
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// EvidenceBundle is the package the dispute resolver submits to the
// coordinator. Messages are ordered by sequence number, not wall clock,
// so that both parties assemble the same bundle regardless of delivery
// jitter or replays.
type EvidenceBundle struct {
	ContractHashHex string     `json:"contract_hash"`
	Role            Role       `json:"role"`
	LastStage       int        `json:"last_stage"`
	Reason          string     `json:"reason"`
	Evidence        []Evidence `json:"evidence"`
}

// NewEvidenceBundle copies and orders the given evidence deterministically.
func NewEvidenceBundle(
	contractHashHex string, role Role, lastStage int, reason string,
	evidence []Evidence,
) EvidenceBundle {
	sorted := make([]Evidence, len(evidence))
	copy(sorted, evidence)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Seq < sorted[j].Seq
	})
	return EvidenceBundle{
		ContractHashHex: contractHashHex,
		Role:            role,
		LastStage:       lastStage,
		Reason:          reason,
		Evidence:        sorted,
	}
}
