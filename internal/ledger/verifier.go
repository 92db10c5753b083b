package ledger

import (
	"context"

	"github.com/liftedinit/credledger/internal/models"
)

// Verification is the outcome of a chain check.
type Verification struct {
	Valid  bool `json:"valid"`
	Length int  `json:"length"`
	// BrokenAt is the index of the first block whose previousHash does not match its predecessor.
	BrokenAt *uint64 `json:"brokenAt,omitempty"`
}

type Verifier struct {
	store Store
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// VerifyChain checks hash continuity of the subject's chain.
// A subject without blocks is valid. Storage failures are returned as errors, never as an invalid chain.
func (v *Verifier) VerifyChain(ctx context.Context, subject models.Subject) (Verification, error) {
	blocks, err := v.store.FindBySubject(ctx, subject)
	if err != nil {
		return Verification{}, err
	}
	return CheckChain(blocks), nil
}

// CheckChain validates blocks already sorted by ascending index.
func CheckChain(blocks []*models.Block) Verification {
	result := Verification{Valid: true, Length: len(blocks)}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].PreviousHash != blocks[i-1].CurrentHash {
			brokenAt := blocks[i].Index
			result.Valid = false
			result.BrokenAt = &brokenAt
			return result
		}
	}
	return result
}
