package binamm

import (
	"cmp"
	"slices"

	"github.com/holiman/uint256"
)

// PoolDiff is the change between two snapshots of the same pool.
type PoolDiff struct {
	State        *PoolState `json:"state,omitempty"`
	TickUpserts  []TickView `json:"tickUpserts,omitempty"`
	TickDeletes  []int32    `json:"tickDeletes,omitempty"`
	BinAdditions []BinView  `json:"binAdditions,omitempty"`
	BinUpdates   []BinView  `json:"binUpdates,omitempty"`
	BinDeletions []uint32   `json:"binDeletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d PoolDiff) IsEmpty() bool {
	return d.State == nil &&
		len(d.TickUpserts) == 0 && len(d.TickDeletes) == 0 &&
		len(d.BinAdditions) == 0 && len(d.BinUpdates) == 0 && len(d.BinDeletions) == 0
}

func eqInt(a, b *uint256.Int) bool {
	return cloneInt(a).Eq(cloneInt(b))
}

func stateChanged(old, new PoolState) bool {
	return old.ActiveTick != new.ActiveTick ||
		old.LastBinID != new.LastBinID ||
		!eqInt(old.ReserveA, new.ReserveA) ||
		!eqInt(old.ReserveB, new.ReserveB)
}

func tickChanged(old, new TickState) bool {
	return old.BinIDsByTick != new.BinIDsByTick ||
		!eqInt(old.ReserveA, new.ReserveA) ||
		!eqInt(old.ReserveB, new.ReserveB) ||
		!eqInt(old.TotalSupply, new.TotalSupply)
}

func binChanged(old, new BinState) bool {
	return old.Kind != new.Kind ||
		old.Tick != new.Tick ||
		old.MergeID != new.MergeID ||
		!eqInt(old.TickBalance, new.TickBalance) ||
		!eqInt(old.TotalSupply, new.TotalSupply) ||
		!eqInt(old.MergeBinBalance, new.MergeBinBalance)
}

// Differ calculates the difference between two snapshots of a pool. Ticks are
// upserted since a tick has no identity beyond its index; bins are reported as
// additions, updates and deletions. Results are ordered by tick index and bin id.
func Differ(old, new PoolSnapshot) PoolDiff {
	var diff PoolDiff

	if stateChanged(old.State, new.State) {
		state := CopyPoolState(new.State)
		diff.State = &state
	}

	oldTicks := make(map[int32]TickState, len(old.Ticks))
	for _, t := range old.Ticks {
		oldTicks[t.Index] = t.TickState
	}
	newTicks := make(map[int32]struct{}, len(new.Ticks))
	for _, t := range new.Ticks {
		newTicks[t.Index] = struct{}{}
		prev, exists := oldTicks[t.Index]
		if !exists || tickChanged(prev, t.TickState) {
			diff.TickUpserts = append(diff.TickUpserts, TickView{Index: t.Index, TickState: CopyTickState(t.TickState)})
		}
	}
	for index := range oldTicks {
		if _, exists := newTicks[index]; !exists {
			diff.TickDeletes = append(diff.TickDeletes, index)
		}
	}

	oldBins := make(map[uint32]BinState, len(old.Bins))
	for _, b := range old.Bins {
		oldBins[b.ID] = b.BinState
	}
	newBins := make(map[uint32]struct{}, len(new.Bins))
	for _, b := range new.Bins {
		newBins[b.ID] = struct{}{}
		prev, exists := oldBins[b.ID]
		switch {
		case !exists:
			diff.BinAdditions = append(diff.BinAdditions, BinView{ID: b.ID, BinState: CopyBinState(b.BinState)})
		case binChanged(prev, b.BinState):
			diff.BinUpdates = append(diff.BinUpdates, BinView{ID: b.ID, BinState: CopyBinState(b.BinState)})
		}
	}
	for id := range oldBins {
		if _, exists := newBins[id]; !exists {
			diff.BinDeletions = append(diff.BinDeletions, id)
		}
	}

	slices.SortFunc(diff.TickUpserts, func(a, b TickView) int { return cmp.Compare(a.Index, b.Index) })
	slices.Sort(diff.TickDeletes)
	slices.SortFunc(diff.BinAdditions, func(a, b BinView) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(diff.BinUpdates, func(a, b BinView) int { return cmp.Compare(a.ID, b.ID) })
	slices.Sort(diff.BinDeletions)

	return diff
}
