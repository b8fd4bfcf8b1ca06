package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction is the subset of an on-chain transaction the escrow needs.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Input       []byte
	BlockNumber *uint64
}

// Mined reports whether the transaction is included in a block.
func (t Transaction) Mined() bool {
	return t.BlockNumber != nil
}

// Receipt is the execution result of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	Logs        []*types.Log
}

// Succeeded reports whether execution did not revert.
func (r Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// Confirmations counts the receipt's own block plus every block mined on top
// of it, given the current chain head.
func Confirmations(r Receipt, head uint64) int {
	return ConfirmationsAt(r.BlockNumber, head)
}

// ConfirmationsAt is Confirmations for a bare block number.
func ConfirmationsAt(block, head uint64) int {
	if head < block {
		return 0
	}
	return int(head-block) + 1
}
