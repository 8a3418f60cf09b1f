package userop

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the read-only chain surface the submitter needs. Satisfied
// by *ethclient.Client.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCCaller is a raw JSON-RPC caller for bundler methods that have no typed
// client binding. Satisfied by *rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

func ethCall(ctx context.Context, chain ChainReader, to common.Address, data []byte) ([]byte, error) {
	return chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
