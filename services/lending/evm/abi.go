package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// PoolABI describes the lending Pool contract.
const PoolABI = `[
{"type":"function","name":"getYourToken","stateMutability":"payable","inputs":[],"outputs":[]},
{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"withDraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
{"type":"function","name":"borrow","stateMutability":"payable","inputs":[],"outputs":[]},
{"type":"function","name":"HealthofLiquidity","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"liquid","type":"bool"},{"name":"cr","type":"uint256"}]},
{"type":"function","name":"getLenderInfo","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"depositTime","type":"uint256"}]},
{"type":"function","name":"getBorrowerInfo","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"collateral","type":"uint256"},{"name":"borrowedammount","type":"uint256"}]},
{"type":"function","name":"getTotalLiquidity","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTotalLended","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getProtocolValue","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getAETHPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getUserToken","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTotalCollateralETH","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTimeAgo","stateMutability":"view","inputs":[{"name":"lender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getLenders","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"lender","type":"address"},{"name":"amount","type":"uint256"},{"name":"depositTime","type":"uint256"}]}]},
{"type":"function","name":"getBorrowers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"borrower","type":"address"},{"name":"collateralamount","type":"uint256"},{"name":"aETHBorrowed","type":"uint256"}]}]}
]`

// TokenABI is the ERC-20 subset used for the pool token.
const TokenABI = `[
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ParseABI parses a JSON contract description.
func ParseABI(definition string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}
