package tickmath

import (
	"errors"
	"fmt"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
)

// MaxTick is the largest |tick|*tickSpacing accepted; it corresponds to a price of 1e14.
const MaxTick = 322_378

var (
	ErrTickMaxExceeded     = errors.New("tick exceeds max sub-tick")
	ErrInvalidTickSpacing  = errors.New("tick spacing must be greater than zero")
	ErrInvalidPriceBounds  = errors.New("sqrt upper price must be greater than sqrt lower price")
	ErrSqrtPriceOutOfRange = errors.New("sqrt price outside tick bounds")

	// q128 is 1.0 in UQ128.128.
	q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	// ratioConstants[i] is 2^128 / sqrt(1.0001)^(2^i) for sub-tick bit i.
	// ratioConstants[0] seeds the product when bit 0 is set; the rest are multiplied in.
	ratioConstants = [19]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad9d3af5f0b9f25db4d6"),
		uint256.MustFromHex("0xfff97272373d41fd789c8cb37ffcaa1c"),
		uint256.MustFromHex("0xfff2e50f5f656ac9229c67059486f389"),
		uint256.MustFromHex("0xffe5caca7e10e81259b3cddc7a064941"),
		uint256.MustFromHex("0xffcb9843d60f67b19e8887e0bd251eb7"),
		uint256.MustFromHex("0xff973b41fa98cd2e57b660be99eb2c4a"),
		uint256.MustFromHex("0xff2ea16466c9838804e327cb417cafcb"),
		uint256.MustFromHex("0xfe5dee046a99d51e2cc356c2f617dbe0"),
		uint256.MustFromHex("0xfcbe86c7900aecf64236ab31f1f9dcb5"),
		uint256.MustFromHex("0xf987a7253ac4d9194200696907cf2e37"),
		uint256.MustFromHex("0xf3392b0822b88206f8abe8a3b44dd9be"),
		uint256.MustFromHex("0xe7159475a2c578ef4f1d17b2b235d480"),
		uint256.MustFromHex("0xd097f3bdfd254ee83bdd3f248e7e785e"),
		uint256.MustFromHex("0xa9f746462d8f7dd10e744d913d033333"),
		uint256.MustFromHex("0x70d869a156ddd32a39e257bc3f50aa9b"),
		uint256.MustFromHex("0x31be135f97da6e09a19dc367e3b6da40"),
		uint256.MustFromHex("0x9aa508b5b7e5a9780b0cc4e25d61a56"),
		uint256.MustFromHex("0x5d6af8dedbcb3a6ccb7ce618d14225"),
		uint256.MustFromHex("0x2216e584f630389b2052b8db590e"),
	}
)

// TickRangeError reports a tick whose sub-tick index is past MaxTick.
type TickRangeError struct {
	Tick        int32
	TickSpacing uint32
}

func (e *TickRangeError) Error() string {
	return fmt.Sprintf("tick %d with spacing %d exceeds max sub-tick %d", e.Tick, e.TickSpacing, MaxTick)
}

func (e *TickRangeError) Unwrap() error {
	return ErrTickMaxExceeded
}

// SubTickIndex returns |tick|*tickSpacing, the exponent of sqrt(1.0001) for the tick's lower edge.
func SubTickIndex(tickSpacing uint32, tick int32) (uint64, error) {
	if tickSpacing == 0 {
		return 0, ErrInvalidTickSpacing
	}
	subTick := uint64(fixedpoint.Abs32(tick)) * uint64(tickSpacing)
	if subTick > MaxTick {
		return 0, &TickRangeError{Tick: tick, TickSpacing: tickSpacing}
	}
	return subTick, nil
}

// TickSqrtPrice returns sqrt(1.0001^(tick*tickSpacing)) in 18-decimal fixed point.
// The result is bit exact: each set bit of the sub-tick index multiplies in one
// ratio constant, and positive ticks take the reciprocal of the product.
func TickSqrtPrice(tickSpacing uint32, tick int32) (*uint256.Int, error) {
	subTick, err := SubTickIndex(tickSpacing, tick)
	if err != nil {
		return nil, err
	}

	ratio := new(uint256.Int)
	if subTick&0x1 != 0 {
		ratio.Set(ratioConstants[0])
	} else {
		ratio.Set(q128)
	}
	for i := 1; i < len(ratioConstants); i++ {
		if subTick&(1<<i) != 0 {
			ratio.Mul(ratio, ratioConstants[i]).Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(fixedpoint.MaxUint256, ratio)
	}

	// ratio < 2^160 after the reciprocal, so ratio*1e18 stays below 2^256.
	return ratio.Mul(ratio, fixedpoint.One).Rsh(ratio, 128), nil
}

// TickSqrtPrices returns the lower and upper sqrt price of a tick.
func TickSqrtPrices(tickSpacing uint32, tick int32) (sqrtLower, sqrtUpper *uint256.Int, err error) {
	sqrtLower, err = TickSqrtPrice(tickSpacing, tick)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err = TickSqrtPrice(tickSpacing, tick+1)
	if err != nil {
		return nil, nil, err
	}
	return sqrtLower, sqrtUpper, nil
}
