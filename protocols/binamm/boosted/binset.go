package boosted

import (
	"fmt"

	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
)

const (
	variantStatic   = "static"
	variantMovement = "movement"
)

// BinSet is the capability that distinguishes position variants: which bins the
// position tracks, and whether those bins can merge out from under it.
type BinSet interface {
	// BinIDs returns the tracked bin ids, anchor first.
	BinIDs() []uint32
	// Ratios returns each bin's required liquidity per unit of anchor liquidity, 1e18 based.
	Ratios() []*uint256.Int
	Ticks(pool binamm.Pool) ([]int32, error)
	Kind() binamm.Kind
	Variant() string
	// requireRoot fails when a tracked bin has merged and the position must migrate.
	requireRoot(pool binamm.Pool) error
}

// staticBins is a fixed list of static-kind bins. Static bins never move, so they
// never merge and the list never changes.
type staticBins struct {
	ids    []uint32
	ratios []*uint256.Int
	ticks  []int32
}

func (s *staticBins) BinIDs() []uint32 {
	return append([]uint32(nil), s.ids...)
}

func (s *staticBins) Ratios() []*uint256.Int {
	out := make([]*uint256.Int, len(s.ratios))
	for i, r := range s.ratios {
		out[i] = r.Clone()
	}
	return out
}

func (s *staticBins) Ticks(binamm.Pool) ([]int32, error) {
	return append([]int32(nil), s.ticks...), nil
}

func (s *staticBins) Kind() binamm.Kind             { return binamm.KindStatic }
func (s *staticBins) Variant() string               { return variantStatic }
func (s *staticBins) requireRoot(binamm.Pool) error { return nil }

// movementBin is the single directional bin of a dynamic position. The slot is
// rewritten when the position migrates after a merge.
type movementBin struct {
	id   uint32
	kind binamm.Kind
}

func (m *movementBin) BinIDs() []uint32 {
	return []uint32{m.id}
}

func (m *movementBin) Ratios() []*uint256.Int {
	return []*uint256.Int{fixedpoint.One.Clone()}
}

// Ticks re-reads the bin since a movement bin changes tick as the price moves.
func (m *movementBin) Ticks(pool binamm.Pool) ([]int32, error) {
	bin, err := pool.GetBin(m.id)
	if err != nil {
		return nil, err
	}
	return []int32{bin.Tick}, nil
}

func (m *movementBin) Kind() binamm.Kind { return m.kind }
func (m *movementBin) Variant() string   { return variantMovement }

func (m *movementBin) requireRoot(pool binamm.Pool) error {
	bin, err := pool.GetBin(m.id)
	if err != nil {
		return err
	}
	if bin.IsMerged() {
		return fmt.Errorf("bin %d merged into %d: %w", m.id, bin.MergeID, ErrBinNotMigrated)
	}
	return nil
}
