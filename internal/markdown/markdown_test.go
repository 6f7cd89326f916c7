package markdown_test

import (
	"testing"

	"CreditLedger/internal/markdown"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNone_AlwaysZero(t *testing.T) {
	got, err := markdown.None{}.CalculateMarkdown(uuid.New(), uint256.NewInt(1000), 1<<40)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLinear_ProportionalThenFull(t *testing.T) {
	p, err := markdown.NewLinear(100)
	require.NoError(t, err)

	debt := uint256.NewInt(1000)
	got, _ := p.CalculateMarkdown(uuid.New(), debt, 0)
	assert.True(t, got.IsZero())

	got, _ = p.CalculateMarkdown(uuid.New(), debt, 25)
	assert.Equal(t, uint256.NewInt(250), got)

	got, _ = p.CalculateMarkdown(uuid.New(), debt, 100)
	assert.Equal(t, debt, got)

	got, _ = p.CalculateMarkdown(uuid.New(), debt, 5000)
	assert.Equal(t, debt, got)
}

func TestNewLinear_RejectsZero(t *testing.T) {
	_, err := markdown.NewLinear(0)
	assert.Error(t, err)
}
