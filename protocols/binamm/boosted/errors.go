package boosted

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientLiquidityAdded = errors.New("liquidity added below the position ratio")
	ErrInsufficientShares         = errors.New("burn exceeds share balance")
	ErrZeroDeltaSupply            = errors.New("mint would issue no shares")
	ErrBinNotMigrated             = errors.New("bin merged; migrate the position to its root bin first")
	ErrReentrantCall              = errors.New("reentrant call into boosted position")
	ErrMigrationTargetMismatch    = errors.New("migration re-add landed in an unexpected bin")
	ErrMigrationTooSmall          = errors.New("position liquidity too small to re-add in the root bin")
	ErrTooManyBins                = errors.New("static position holds too many bins")
	ErrNoBins                     = errors.New("position needs at least one bin")
	ErrInvalidRatio               = errors.New("invalid bin ratio")
)

// InsufficientLiquidityError reports the configured bin whose new liquidity fell
// short of its ratio to the anchor bin during a mint.
type InsufficientLiquidityError struct {
	BinIndex int
	BinID    uint32
	Required *uint256.Int
	Added    *uint256.Int
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("bin index %d (id %d): added %s, required %s", e.BinIndex, e.BinID, e.Added.Dec(), e.Required.Dec())
}

func (e *InsufficientLiquidityError) Unwrap() error {
	return ErrInsufficientLiquidityAdded
}
