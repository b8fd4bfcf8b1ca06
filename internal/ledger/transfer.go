package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// ErrNotATransfer is returned when call data is not an ERC-20 transfer.
var ErrNotATransfer = errors.New("ledger: not an erc20 transfer call")

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "transfer",
			"type": "function",
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "Transfer",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "from", "type": "address", "indexed": true},
				{"name": "to", "type": "address", "indexed": true},
				{"name": "value", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("ledger: parse erc20 abi: " + err.Error())
	}
}

// Transfer is a decoded transfer(address,uint256) call.
type Transfer struct {
	To     common.Address
	Amount *big.Int
}

// TransferEvent is a decoded Transfer(address,address,uint256) log.
type TransferEvent struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Amount   *big.Int
	LogIndex uint
}

// DecodeTransferCall parses transaction input as an ERC-20 transfer. The
// amount is decoded as an arbitrary-precision integer.
func DecodeTransferCall(input []byte) (Transfer, error) {
	method := erc20ABI.Methods["transfer"]
	if len(input) < 4 || !bytes.Equal(input[:4], method.ID) {
		return Transfer{}, ErrNotATransfer
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", ErrNotATransfer, err)
	}
	if len(args) != 2 {
		return Transfer{}, fmt.Errorf("%w: got %d arguments", ErrNotATransfer, len(args))
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return Transfer{}, fmt.Errorf("%w: bad recipient", ErrNotATransfer)
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return Transfer{}, fmt.Errorf("%w: bad amount", ErrNotATransfer)
	}
	return Transfer{To: to, Amount: amount}, nil
}

// DecodeTransferLogs returns every Transfer event emitted by token. Logs
// from other contracts or with an unexpected shape are skipped.
func DecodeTransferLogs(logs []*types.Log, token common.Address) []TransferEvent {
	event := erc20ABI.Events["Transfer"]
	var out []TransferEvent
	for _, l := range logs {
		if l == nil || l.Address != token || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		vals, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 1 {
			continue
		}
		amount, ok := vals[0].(*big.Int)
		if !ok {
			continue
		}
		out = append(out, TransferEvent{
			Token:    l.Address,
			From:     common.BytesToAddress(l.Topics[1].Bytes()),
			To:       common.BytesToAddress(l.Topics[2].Bytes()),
			Amount:   amount,
			LogIndex: l.Index,
		})
	}
	return out
}

// ToBaseUnits converts a token amount to its smallest unit. Precision beyond
// the token's decimals is rounded up, so a requirement is never understated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Ceil().BigInt()
}

// FromBaseUnits converts a raw integer amount back to token units.
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// SameAddress compares two hex addresses case-insensitively. Malformed
// input never matches.
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
