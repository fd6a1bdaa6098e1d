package liquiditymath

import (
	"errors"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta returns x + delta, failing if the sum no longer fits in a uint128.
// Reserves, tick balances and supplies are all stored with uint128 headroom.
func AddDelta(x, delta *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, delta)
	if overflow || z.Gt(fixedpoint.MaxUint128) {
		return nil, ErrLiquidityOverflow
	}
	return z, nil
}

// SubDelta returns x - delta, failing instead of wrapping below zero.
func SubDelta(x, delta *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, delta)
	if underflow {
		return nil, ErrLiquidityUnderflow
	}
	return z, nil
}
