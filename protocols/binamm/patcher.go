package binamm

import (
	"cmp"
	"fmt"
	"slices"
)

// Patcher builds the snapshot that results from applying diff to prev. prev is
// left untouched; the result shares no integers with either argument.
func Patcher(prev PoolSnapshot, diff PoolDiff) (PoolSnapshot, error) {
	ticks := make(map[int32]TickState, len(prev.Ticks))
	for _, t := range prev.Ticks {
		ticks[t.Index] = CopyTickState(t.TickState)
	}
	bins := make(map[uint32]BinState, len(prev.Bins))
	for _, b := range prev.Bins {
		bins[b.ID] = CopyBinState(b.BinState)
	}

	for _, index := range diff.TickDeletes {
		delete(ticks, index)
	}
	for _, t := range diff.TickUpserts {
		ticks[t.Index] = CopyTickState(t.TickState)
	}

	for _, id := range diff.BinDeletions {
		if _, exists := bins[id]; !exists {
			return PoolSnapshot{}, fmt.Errorf("cannot delete bin %d: %w", id, ErrUnknownBin)
		}
		delete(bins, id)
	}
	for _, b := range diff.BinUpdates {
		if _, exists := bins[b.ID]; !exists {
			return PoolSnapshot{}, fmt.Errorf("cannot update bin %d: %w", b.ID, ErrUnknownBin)
		}
		bins[b.ID] = CopyBinState(b.BinState)
	}
	for _, b := range diff.BinAdditions {
		bins[b.ID] = CopyBinState(b.BinState)
	}

	next := PoolSnapshot{State: CopyPoolState(prev.State)}
	if diff.State != nil {
		next.State = CopyPoolState(*diff.State)
	}

	next.Ticks = make([]TickView, 0, len(ticks))
	for index, t := range ticks {
		next.Ticks = append(next.Ticks, TickView{Index: index, TickState: t})
	}
	slices.SortFunc(next.Ticks, func(a, b TickView) int { return cmp.Compare(a.Index, b.Index) })

	next.Bins = make([]BinView, 0, len(bins))
	for id, b := range bins {
		next.Bins = append(next.Bins, BinView{ID: id, BinState: b})
	}
	slices.SortFunc(next.Bins, func(a, b BinView) int { return cmp.Compare(a.ID, b.ID) })

	return next, nil
}
