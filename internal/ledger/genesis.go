package ledger

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Genesis describes the initial world state.
//
//	[vault]
//	address = "0x..."
//	symbol  = "WETH"
//
//	[[native]]
//	address = "0x..."
//	amount  = "1000000000000000000"
//
//	[[tokens]]
//	address  = "0x..."
//	symbol   = "USDC"
//	decimals = 6
//	  [[tokens.balances]]
//	  address = "0x..."
//	  amount  = "5000000"
//	  [[tokens.allowances]]
//	  owner   = "0x..."
//	  spender = "0x..."
//	  amount  = "max"
type Genesis struct {
	Vault  GenesisVault    `toml:"vault"`
	Native []GenesisAmount `toml:"native"`
	Tokens []GenesisToken  `toml:"tokens"`
}

type GenesisVault struct {
	Address string `toml:"address"`
	Symbol  string `toml:"symbol"`
}

type GenesisAmount struct {
	Address string `toml:"address"`
	Amount  string `toml:"amount"`
}

type GenesisAllowance struct {
	Owner   string `toml:"owner"`
	Spender string `toml:"spender"`
	Amount  string `toml:"amount"`
}

type GenesisToken struct {
	Address    string             `toml:"address"`
	Symbol     string             `toml:"symbol"`
	Decimals   uint8              `toml:"decimals"`
	Balances   []GenesisAmount    `toml:"balances"`
	Allowances []GenesisAllowance `toml:"allowances"`
}

// LoadGenesis decodes a genesis TOML file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return DecodeGenesis(string(raw))
}

// DecodeGenesis decodes genesis TOML from a string.
func DecodeGenesis(data string) (*Genesis, error) {
	var g Genesis
	if _, err := toml.Decode(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return &g, nil
}

// Apply seeds w with g and returns the deployed vault.
func (g *Genesis) Apply(w *World) (*Vault, error) {
	vaultAddr, err := parseAddress(g.Vault.Address)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	symbol := g.Vault.Symbol
	if symbol == "" {
		symbol = "WNATIVE"
	}
	vault, err := NewVault(w, vaultAddr, symbol)
	if err != nil {
		return nil, err
	}

	for _, n := range g.Native {
		addr, amt, err := parseAmount(n)
		if err != nil {
			return nil, fmt.Errorf("native: %w", err)
		}
		if err := w.Fund(addr, amt); err != nil {
			return nil, err
		}
	}

	for _, gt := range g.Tokens {
		addr, err := parseAddress(gt.Address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", gt.Symbol, err)
		}
		tok := NewERC20(w.journal, addr, gt.Symbol, gt.Decimals)
		if err := w.AddToken(tok); err != nil {
			return nil, err
		}
		for _, b := range gt.Balances {
			holder, amt, err := parseAmount(b)
			if err != nil {
				return nil, fmt.Errorf("token %s balance: %w", gt.Symbol, err)
			}
			if err := tok.Mint(holder, amt); err != nil {
				return nil, err
			}
		}
		for _, a := range gt.Allowances {
			owner, err := parseAddress(a.Owner)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance owner: %w", gt.Symbol, err)
			}
			spender, err := parseAddress(a.Spender)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance spender: %w", gt.Symbol, err)
			}
			amt, err := ParseAmount(a.Amount)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance: %w", gt.Symbol, err)
			}
			if err := tok.Approve(owner, spender, amt); err != nil {
				return nil, err
			}
		}
	}
	return vault, nil
}

// ParseAmount parses a base-10 integer amount; "max" is the uint256 maximum.
func ParseAmount(s string) (*big.Int, error) {
	if s == "max" {
		return MaxAllowance(), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// MaxAllowance returns the uint256 maximum, the unlimited allowance value.
func MaxAllowance() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func parseAmount(a GenesisAmount) (common.Address, *big.Int, error) {
	addr, err := parseAddress(a.Address)
	if err != nil {
		return common.Address{}, nil, err
	}
	amt, err := ParseAmount(a.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, amt, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
