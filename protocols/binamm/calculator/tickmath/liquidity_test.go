package tickmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRandInt(t *testing.T, bits int) *uint256.Int {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), uint(bits)))
	require.NoError(t, err)
	return uint256.MustFromBig(n)
}

func tickBounds(t *testing.T, spacing uint32, tick int32) (*uint256.Int, *uint256.Int) {
	lower, upper, err := TickSqrtPrices(spacing, tick)
	require.NoError(t, err)
	return lower, upper
}

func TestGetTickL(t *testing.T) {
	lower, upper := tickBounds(t, 10, 5)

	t.Run("two sided reserves", func(t *testing.T) {
		liquidity, err := GetTickL(fromString("250675880738169000000"), fromString("249238694341753797582"), lower, upper)
		require.NoError(t, err)
		assert.Equal(t, "999999999999999999999608", liquidity.Dec())
	})

	t.Run("only token A is exact", func(t *testing.T) {
		liquidity, err := GetTickL(fromString("501351761476339000"), uint256.NewInt(0), lower, upper)
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000000", liquidity.Dec())
	})

	t.Run("only token B", func(t *testing.T) {
		liquidity, err := GetTickL(uint256.NewInt(0), fromString("498602032957039409"), lower, upper)
		require.NoError(t, err)
		assert.Equal(t, "999999999999999999285", liquidity.Dec())
	})

	t.Run("small reserves get the precision bump", func(t *testing.T) {
		liquidity, err := GetTickL(fromString("250675880738"), fromString("249238694341"), lower, upper)
		require.NoError(t, err)
		assert.Equal(t, "999999999998150", liquidity.Dec())
	})

	t.Run("empty tick", func(t *testing.T) {
		liquidity, err := GetTickL(uint256.NewInt(0), uint256.NewInt(0), lower, upper)
		require.NoError(t, err)
		assert.True(t, liquidity.IsZero())
	})

	t.Run("rejects inverted bounds", func(t *testing.T) {
		_, err := GetTickL(uint256.NewInt(1), uint256.NewInt(1), upper, lower)
		assert.ErrorIs(t, err, ErrInvalidPriceBounds)
	})

	t.Run("reserves at the top of the uint128 range", func(t *testing.T) {
		_, err := GetTickL(fixedpoint.MaxUint128, fixedpoint.MaxUint128, lower, upper)
		require.NoError(t, err)
	})
}

// Reserves generated from a known liquidity must never solve back to more than it.
func TestGetTickL_LowerBound(t *testing.T) {
	spacings := []uint32{1, 10, 50, 200, 1000}
	for i := 0; i < 1000; i++ {
		spacing := spacings[i%len(spacings)]
		limit := int64(MaxTick/spacing) - 1
		tick := int32(randBelow(t, 2*limit) - limit)
		lower, upper := tickBounds(t, spacing, tick)

		liquidity := newRandInt(t, 60+i%60)
		if liquidity.IsZero() {
			liquidity.SetOne()
		}
		span := new(uint256.Int).Sub(upper, lower)
		offset, err := rand.Int(rand.Reader, span.ToBig())
		require.NoError(t, err)
		sqrtPrice := new(uint256.Int).Add(lower, uint256.MustFromBig(offset))

		reserveA, reserveB, err := ReservesFromLiquidity(liquidity, sqrtPrice, lower, upper, fixedpoint.Floor)
		require.NoError(t, err)

		recovered, err := GetTickL(reserveA, reserveB, lower, upper)
		require.NoError(t, err)
		require.True(t, recovered.Cmp(liquidity) <= 0, "recovered %s > liquidity %s", recovered.Dec(), liquidity.Dec())
	}
}

func TestGetTickL_ExactSingleSided(t *testing.T) {
	tests := []struct {
		spacing   uint32
		tick      int32
		liquidity string
	}{
		{10, 0, "1000000000000000000000000"},
		{10, -7, "3000000000000000000"},
		{50, 12, "250000000000000000000000000000"},
		{1, -400, "1000000000000000000"},
	}
	for _, tc := range tests {
		lower, upper := tickBounds(t, tc.spacing, tc.tick)
		liquidity := fromString(tc.liquidity)

		// a whole number of 1e18 units at the upper bound divides out exactly
		reserveA, reserveB, err := ReservesFromLiquidity(liquidity, upper, lower, upper, fixedpoint.Floor)
		require.NoError(t, err)
		require.True(t, reserveB.IsZero())

		recovered, err := GetTickL(reserveA, reserveB, lower, upper)
		require.NoError(t, err)
		assert.Equal(t, liquidity, recovered, "spacing %d tick %d", tc.spacing, tc.tick)
	}
}

func TestGetSqrtPrice(t *testing.T) {
	lower, upper := tickBounds(t, 10, 5)

	t.Run("recovers the price from reserves and liquidity", func(t *testing.T) {
		sqrtPrice, liquidity, err := GetTickSqrtPriceAndL(fromString("250675880738169000000"), fromString("249238694341753797582"), lower, upper)
		require.NoError(t, err)
		assert.Equal(t, "999999999999999999999608", liquidity.Dec())
		// generated at the midpoint 1002753678182003424
		assert.Equal(t, "1002753678182003423", sqrtPrice.Dec())
	})

	t.Run("empty A side sits on the lower bound", func(t *testing.T) {
		sqrtPrice, err := GetSqrtPrice(uint256.NewInt(0), uint256.NewInt(5), lower, upper, uint256.NewInt(1))
		require.NoError(t, err)
		assert.True(t, sqrtPrice.Eq(lower))
	})

	t.Run("empty B side sits on the upper bound", func(t *testing.T) {
		sqrtPrice, err := GetSqrtPrice(uint256.NewInt(5), uint256.NewInt(0), lower, upper, uint256.NewInt(1))
		require.NoError(t, err)
		assert.True(t, sqrtPrice.Eq(upper))
	})

	t.Run("is clamped to the tick", func(t *testing.T) {
		// a wildly A-heavy tick with tiny liquidity would imply a price far above the tick
		sqrtPrice, err := GetSqrtPrice(fromString("1000000000000000000000"), uint256.NewInt(1), lower, upper, uint256.NewInt(1))
		require.NoError(t, err)
		assert.True(t, sqrtPrice.Eq(upper))
	})
}

func TestReservesFromLiquidity(t *testing.T) {
	lower, upper := tickBounds(t, 10, 5)
	liquidity := fromString("1000000000000000000000")

	t.Run("lower bound is all B", func(t *testing.T) {
		a, b, err := ReservesFromLiquidity(liquidity, lower, lower, upper, fixedpoint.Floor)
		require.NoError(t, err)
		assert.True(t, a.IsZero())
		assert.Equal(t, "498602032957039409", b.Dec())
	})

	t.Run("upper bound is all A", func(t *testing.T) {
		a, b, err := ReservesFromLiquidity(liquidity, upper, lower, upper, fixedpoint.Floor)
		require.NoError(t, err)
		assert.Equal(t, "501351761476339000", a.Dec())
		assert.True(t, b.IsZero())
	})

	t.Run("ceil never returns less than floor", func(t *testing.T) {
		mid := new(uint256.Int).Add(lower, upper)
		mid.Rsh(mid, 1)
		aDown, bDown, err := ReservesFromLiquidity(liquidity, mid, lower, upper, fixedpoint.Floor)
		require.NoError(t, err)
		aUp, bUp, err := ReservesFromLiquidity(liquidity, mid, lower, upper, fixedpoint.Ceil)
		require.NoError(t, err)
		assert.True(t, aUp.Cmp(aDown) >= 0)
		assert.True(t, bUp.Cmp(bDown) >= 0)
	})

	t.Run("price outside the tick", func(t *testing.T) {
		_, _, err := ReservesFromLiquidity(liquidity, new(uint256.Int).AddUint64(upper, 1), lower, upper, fixedpoint.Floor)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfRange)
	})
}
