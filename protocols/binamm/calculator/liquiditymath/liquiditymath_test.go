package liquiditymath

import (
	"testing"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDelta(t *testing.T) {
	t.Run("adds within range", func(t *testing.T) {
		z, err := AddDelta(uint256.NewInt(100), uint256.NewInt(50))
		require.NoError(t, err)
		assert.Equal(t, uint64(150), z.Uint64())
	})

	t.Run("max uint128 is allowed", func(t *testing.T) {
		x := new(uint256.Int).SubUint64(fixedpoint.MaxUint128, 1)
		z, err := AddDelta(x, uint256.NewInt(1))
		require.NoError(t, err)
		assert.True(t, z.Eq(fixedpoint.MaxUint128))
	})

	t.Run("fails past uint128", func(t *testing.T) {
		_, err := AddDelta(fixedpoint.MaxUint128, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrLiquidityOverflow)
	})

	t.Run("fails on 256-bit wrap", func(t *testing.T) {
		_, err := AddDelta(fixedpoint.MaxUint256, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrLiquidityOverflow)
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		x := uint256.NewInt(7)
		_, err := AddDelta(x, uint256.NewInt(3))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), x.Uint64())
	})
}

func TestSubDelta(t *testing.T) {
	z, err := SubDelta(uint256.NewInt(100), uint256.NewInt(100))
	require.NoError(t, err)
	assert.True(t, z.IsZero())

	_, err = SubDelta(uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)
}
