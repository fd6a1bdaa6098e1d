package binamm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Kind is the movement mode of a bin. A tick hosts at most one bin of each kind.
type Kind uint8

const (
	KindStatic Kind = iota
	KindRight
	KindLeft
	KindBoth

	NumKinds = 4
)

// MaxMergeHops caps every walk along a merge chain.
const MaxMergeHops = 64

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindRight:
		return "right"
	case KindLeft:
		return "left"
	case KindBoth:
		return "both"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a kind name as printed by String back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k := KindStatic; k < NumKinds; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bin kind %q: %w", name, ErrWrongKind)
}

// Valid reports whether k is one of the four bin kinds.
func (k Kind) Valid() bool {
	return k < NumKinds
}

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	ErrLengthMismatch      = errors.New("parameter arrays have different lengths")
	ErrUnsorted            = errors.New("array is not strictly increasing")
	ErrWrongKind           = errors.New("bin kind not allowed here")
	ErrUnknownBin          = errors.New("bin does not exist")
	ErrBinMerged           = errors.New("bin has been merged")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroLiquidity       = errors.New("liquidity operation credits zero balance")
	ErrMergeChainTooLong   = errors.New("merge chain exceeds max hops or loops")
)

// IndexError ties an error to the position in a parameter array that caused it.
type IndexError struct {
	Index int
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d: %v", e.Index, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// TickState is a tick's aggregate reserves in engine (18 decimal) units and the
// supply of balance units its bins hold.
type TickState struct {
	ReserveA     *uint256.Int     `json:"reserveA"`
	ReserveB     *uint256.Int     `json:"reserveB"`
	TotalSupply  *uint256.Int     `json:"totalSupply"`
	BinIDsByTick [NumKinds]uint32 `json:"binIdsByTick"`
}

// BinState is one bin's claim on its tick. A merged bin holds no tick balance;
// its value is MergeBinBalance units of the bin it merged into.
type BinState struct {
	MergeBinBalance *uint256.Int `json:"mergeBinBalance"`
	TickBalance     *uint256.Int `json:"tickBalance"`
	TotalSupply     *uint256.Int `json:"totalSupply"`
	Kind            Kind         `json:"kind"`
	Tick            int32        `json:"tick"`
	MergeID         uint32       `json:"mergeId"`
}

// IsMerged reports whether the bin has been folded into another bin.
func (b BinState) IsMerged() bool {
	return b.MergeID != 0
}

// PoolState is the pool-wide state the engine reads.
type PoolState struct {
	ActiveTick int32        `json:"activeTick"`
	ReserveA   *uint256.Int `json:"reserveA"`
	ReserveB   *uint256.Int `json:"reserveB"`
	LastBinID  uint32       `json:"lastBinId"`
}

// AddLiquidityParams requests Amounts[i] bin-balance units in the bin of the given
// kind at Ticks[i].
type AddLiquidityParams struct {
	Kind    Kind
	Ticks   []int32
	Amounts []*uint256.Int
}

// AddLiquidityResult reports the token-scale amounts pulled from the sender and the
// bins that received the deposit, parallel to the request.
type AddLiquidityResult struct {
	AmountA *uint256.Int
	AmountB *uint256.Int
	BinIDs  []uint32
}

// RemoveLiquidityParams requests removal of Amounts[i] bin-balance units of BinIDs[i].
type RemoveLiquidityParams struct {
	BinIDs  []uint32
	Amounts []*uint256.Int
}

// RemoveLiquidityResult reports the token-scale amounts paid to the recipient.
type RemoveLiquidityResult struct {
	AmountA *uint256.Int
	AmountB *uint256.Int
}

// Pool is the call contract the query and boosted position layers consume. The
// sender argument is the identity whose tokens or balances are moved.
type Pool interface {
	AddLiquidity(sender, recipient common.Address, subaccount uint64, params AddLiquidityParams) (AddLiquidityResult, error)
	RemoveLiquidity(sender, recipient common.Address, subaccount uint64, params RemoveLiquidityParams) (RemoveLiquidityResult, error)
	MigrateBinUpStack(binID uint32, maxHops uint32) error
	GetBin(binID uint32) (BinState, error)
	GetTick(tick int32) TickState
	GetState() PoolState
	BalanceOf(owner common.Address, subaccount uint64, binID uint32) *uint256.Int
	TickSpacing() uint32
	TokenAScale() *uint256.Int
	TokenBScale() *uint256.Int
}
