package markdown

import (
	"errors"

	fpmath "CreditLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	NameNone   = "none"
	NameLinear = "linear"
)

var errZeroDuration = errors.New("markdown: full markdown duration must be positive")

// None never writes anything down.
type None struct{}

func (None) CalculateMarkdown(uuid.UUID, *uint256.Int, uint64) (*uint256.Int, error) {
	return fpmath.Zero(), nil
}

// Linear writes debt down in proportion to time spent in default, reaching the
// full debt after FullAfter seconds.
type Linear struct {
	FullAfter uint64
}

func NewLinear(fullAfter uint64) (*Linear, error) {
	if fullAfter == 0 {
		return nil, errZeroDuration
	}
	return &Linear{FullAfter: fullAfter}, nil
}

func (p *Linear) CalculateMarkdown(_ uuid.UUID, debt *uint256.Int, timeInDefault uint64) (*uint256.Int, error) {
	if timeInDefault >= p.FullAfter {
		return debt.Clone(), nil
	}
	return fpmath.MulDivDown(debt, uint256.NewInt(timeInDefault), uint256.NewInt(p.FullAfter)), nil
}
