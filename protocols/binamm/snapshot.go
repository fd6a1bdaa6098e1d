package binamm

import "github.com/holiman/uint256"

// TickView is a tick of a snapshot, keyed by its index.
type TickView struct {
	Index int32 `json:"index"`
	TickState
}

// BinView is a bin of a snapshot, keyed by its id.
type BinView struct {
	ID uint32 `json:"id"`
	BinState
}

// PoolSnapshot is a point-in-time copy of a pool's ticks, bins and pool state.
type PoolSnapshot struct {
	State PoolState  `json:"state"`
	Ticks []TickView `json:"ticks"`
	Bins  []BinView  `json:"bins"`
}

// --- Deep Copy Helper Functions ---

func cloneInt(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}

// CopyTickState returns a TickState with its own integers.
func CopyTickState(t TickState) TickState {
	t.ReserveA = cloneInt(t.ReserveA)
	t.ReserveB = cloneInt(t.ReserveB)
	t.TotalSupply = cloneInt(t.TotalSupply)
	return t
}

// CopyBinState returns a BinState with its own integers.
func CopyBinState(b BinState) BinState {
	b.MergeBinBalance = cloneInt(b.MergeBinBalance)
	b.TickBalance = cloneInt(b.TickBalance)
	b.TotalSupply = cloneInt(b.TotalSupply)
	return b
}

// CopyPoolState returns a PoolState with its own integers.
func CopyPoolState(s PoolState) PoolState {
	s.ReserveA = cloneInt(s.ReserveA)
	s.ReserveB = cloneInt(s.ReserveB)
	return s
}

// Clone returns a deep copy of the snapshot.
func (s PoolSnapshot) Clone() PoolSnapshot {
	out := PoolSnapshot{State: CopyPoolState(s.State)}
	if s.Ticks != nil {
		out.Ticks = make([]TickView, len(s.Ticks))
		for i, t := range s.Ticks {
			out.Ticks[i] = TickView{Index: t.Index, TickState: CopyTickState(t.TickState)}
		}
	}
	if s.Bins != nil {
		out.Bins = make([]BinView, len(s.Bins))
		for i, b := range s.Bins {
			out.Bins[i] = BinView{ID: b.ID, BinState: CopyBinState(b.BinState)}
		}
	}
	return out
}
