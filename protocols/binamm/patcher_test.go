package binamm

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findBinByID(bins []BinView, id uint32) *BinView {
	for i := range bins {
		if bins[i].ID == id {
			return &bins[i]
		}
	}
	return nil
}

func TestPatcher(t *testing.T) {
	base := newTestSnapshot(
		[]TickView{newTestTick(-1, 100, 0, 100, 1), newTestTick(0, 0, 200, 200, 2)},
		[]BinView{newTestBin(1, -1, KindStatic, 100, 100), newTestBin(2, 0, KindStatic, 200, 200)},
	)

	t.Run("should handle only additions", func(t *testing.T) {
		diff := PoolDiff{BinAdditions: []BinView{newTestBin(3, 0, KindLeft, 5, 5)}}

		next, err := Patcher(base, diff)
		require.NoError(t, err)
		assert.Len(t, next.Bins, 3)
		require.NotNil(t, findBinByID(next.Bins, 3))
	})

	t.Run("should fail on unknown deletions", func(t *testing.T) {
		_, err := Patcher(base, PoolDiff{BinDeletions: []uint32{42}})
		assert.ErrorIs(t, err, ErrUnknownBin)
	})

	t.Run("should not mutate the previous snapshot", func(t *testing.T) {
		updated := newTestBin(1, -1, KindStatic, 1, 1)
		next, err := Patcher(base, PoolDiff{BinUpdates: []BinView{updated}})
		require.NoError(t, err)

		assert.Equal(t, uint64(1), findBinByID(next.Bins, 1).TickBalance.Uint64())
		assert.Equal(t, uint64(100), findBinByID(base.Bins, 1).TickBalance.Uint64())

		findBinByID(next.Bins, 2).TotalSupply.SetUint64(0)
		assert.Equal(t, uint64(200), findBinByID(base.Bins, 2).TotalSupply.Uint64())
	})

	t.Run("should round trip a diff", func(t *testing.T) {
		next := base.Clone()
		next.State.ActiveTick = -1
		next.State.ReserveB = uint256.NewInt(0)
		next.Ticks = append(next.Ticks[:1], newTestTick(3, 9, 9, 9, 3))
		next.Bins[1].MergeID = 3
		next.Bins[1].TickBalance = new(uint256.Int)
		next.Bins = append(next.Bins, newTestBin(3, 3, KindRight, 9, 9))

		patched, err := Patcher(base, Differ(base, next))
		require.NoError(t, err)
		assert.Equal(t, next, patched)
	})
}
