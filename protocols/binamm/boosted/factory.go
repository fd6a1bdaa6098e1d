package boosted

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxStaticBins is the most bins a static position may hold.
const MaxStaticBins = 24

// shareDecimals matches the 18-decimal bin balances the shares are minted against.
const shareDecimals = 18

// FactoryConfig holds the factory's parameters and dependencies.
type FactoryConfig struct {
	Address  common.Address
	Pool     binamm.Pool
	Registry prometheus.Registerer
	Logger   binamm.Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *FactoryConfig) validate() error {
	if c.Pool == nil {
		return errors.New("config: Pool cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Factory creates boosted positions over one pool and indexes them by bin id.
type Factory struct {
	address common.Address
	pool    binamm.Pool
	metrics *Metrics
	logger  binamm.Logger

	mu        sync.RWMutex
	nonce     uint64
	positions []*Position
}

// NewFactory constructs a factory from a configuration, returning an error if the config is invalid.
func NewFactory(cfg *FactoryConfig) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Factory{
		address: cfg.Address,
		pool:    cfg.Pool,
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}, nil
}

// CreateStatic creates a position over static bins with strictly increasing ticks.
// ratios[i] is bin i's liquidity per unit of bin 0's, 1e18 based, so ratios[0]
// must be exactly 1e18.
func (f *Factory) CreateStatic(binIDs []uint32, ratios []*uint256.Int) (pos *Position, err error) {
	defer f.metrics.observe(opCreate, variantStatic)(&err)

	switch {
	case len(binIDs) == 0:
		return nil, ErrNoBins
	case len(binIDs) > MaxStaticBins:
		return nil, fmt.Errorf("%d bins, max %d: %w", len(binIDs), MaxStaticBins, ErrTooManyBins)
	case len(ratios) != len(binIDs):
		return nil, fmt.Errorf("%d bins, %d ratios: %w", len(binIDs), len(ratios), binamm.ErrLengthMismatch)
	case ratios[0] == nil || !ratios[0].Eq(fixedpoint.One):
		return nil, fmt.Errorf("first ratio must be %s: %w", fixedpoint.One.Dec(), ErrInvalidRatio)
	}

	set := &staticBins{
		ids:    append([]uint32(nil), binIDs...),
		ratios: make([]*uint256.Int, len(ratios)),
		ticks:  make([]int32, len(binIDs)),
	}
	for i, id := range binIDs {
		if ratios[i] == nil || ratios[i].IsZero() {
			return nil, &binamm.IndexError{Index: i, Err: ErrInvalidRatio}
		}
		bin, err := f.pool.GetBin(id)
		if err != nil {
			return nil, &binamm.IndexError{Index: i, Err: err}
		}
		if bin.Kind != binamm.KindStatic {
			return nil, &binamm.IndexError{Index: i, Err: fmt.Errorf("bin %d is %s: %w", id, bin.Kind, binamm.ErrWrongKind)}
		}
		if i > 0 && bin.Tick <= set.ticks[i-1] {
			return nil, &binamm.IndexError{Index: i, Err: fmt.Errorf("tick %d after %d: %w", bin.Tick, set.ticks[i-1], binamm.ErrUnsorted)}
		}
		set.ratios[i] = ratios[i].Clone()
		set.ticks[i] = bin.Tick
	}
	return f.create(set), nil
}

// CreateDynamic creates a single-bin position over a movement bin.
func (f *Factory) CreateDynamic(binID uint32) (pos *Position, err error) {
	defer f.metrics.observe(opCreate, variantMovement)(&err)

	bin, err := f.pool.GetBin(binID)
	if err != nil {
		return nil, err
	}
	if bin.Kind == binamm.KindStatic {
		return nil, fmt.Errorf("bin %d is %s: %w", binID, bin.Kind, binamm.ErrWrongKind)
	}
	if bin.IsMerged() {
		return nil, fmt.Errorf("bin %d: %w", binID, binamm.ErrBinMerged)
	}
	return f.create(&movementBin{id: binID, kind: bin.Kind}), nil
}

func (f *Factory) create(bins BinSet) *Position {
	f.mu.Lock()
	defer f.mu.Unlock()

	address := crypto.CreateAddress(f.address, f.nonce)
	f.nonce++

	shares := token.NewLedger(token.Token{
		Address:  address,
		Name:     fmt.Sprintf("Boosted Position %d", f.nonce),
		Symbol:   fmt.Sprintf("BP-%d", f.nonce),
		Decimals: shareDecimals,
	})
	pos := newPosition(address, f.pool, shares, bins, f.metrics, f.logger)
	f.positions = append(f.positions, pos)

	f.logger.Info("boosted position created", "position", address.Hex(), "variant", bins.Variant(), "kind", bins.Kind().String(), "bins", bins.BinIDs())
	return pos
}

// Positions returns every position created so far, in creation order.
func (f *Factory) Positions() []*Position {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Position(nil), f.positions...)
}

// Lookup returns the positions currently tracking binID. A migrated movement
// position is found under its new bin only.
func (f *Factory) Lookup(binID uint32) []*Position {
	var out []*Position
	for _, pos := range f.Positions() {
		if slices.Contains(pos.BinIDs(), binID) {
			out = append(out, pos)
		}
	}
	return out
}
