package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferSelector returns the 4-byte selector of transfer(address,uint256).
func TransferSelector() []byte {
	return erc20ABI.Methods["transfer"].ID
}

// EncodeTransferCall builds transfer(address,uint256) call data.
func EncodeTransferCall(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}
