package token

import (
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a safe, structured representation of a token's data for external use.
type Token struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Scale returns the factor that lifts a native amount of this token to the
// engine's 18 decimal units.
func (t Token) Scale() (*uint256.Int, error) {
	return fixedpoint.Scale(t.Decimals)
}
