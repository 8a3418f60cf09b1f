package userop

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const factoryABIJSON = `[
  {"type":"function","name":"getAddress","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"createAccount","stateMutability":"nonpayable",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]}
]`

const entryPointABIJSON = `[
  {"type":"function","name":"getNonce","stateMutability":"view",
   "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
   "outputs":[{"name":"nonce","type":"uint256"}]},
  {"type":"function","name":"getUserOpHash","stateMutability":"view",
   "inputs":[{"name":"userOp","type":"tuple","components":[
     {"name":"sender","type":"address"},
     {"name":"nonce","type":"uint256"},
     {"name":"initCode","type":"bytes"},
     {"name":"callData","type":"bytes"},
     {"name":"accountGasLimits","type":"bytes32"},
     {"name":"preVerificationGas","type":"uint256"},
     {"name":"gasFees","type":"bytes32"},
     {"name":"paymasterAndData","type":"bytes"},
     {"name":"signature","type":"bytes"}]}],
   "outputs":[{"name":"","type":"bytes32"}]}
]`

const accountABIJSON = `[
  {"type":"function","name":"execute","stateMutability":"nonpayable",
   "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},
             {"name":"data","type":"bytes"}],
   "outputs":[]}
]`

var (
	factoryABI    abi.ABI
	entryPointABI abi.ABI
	accountABI    abi.ABI
)

func init() {
	factoryABI = mustParseABI(factoryABIJSON)
	entryPointABI = mustParseABI(entryPointABIJSON)
	accountABI = mustParseABI(accountABIJSON)
}

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

func packGetAddress(owner common.Address, salt *big.Int) ([]byte, error) {
	return factoryABI.Pack("getAddress", owner, salt)
}

func unpackAddress(method string, parsed abi.ABI, data []byte) (common.Address, error) {
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected return type", method)
	}
	return addr, nil
}

func packCreateAccount(owner common.Address, salt *big.Int) ([]byte, error) {
	return factoryABI.Pack("createAccount", owner, salt)
}

func packGetNonce(sender common.Address, key *big.Int) ([]byte, error) {
	return entryPointABI.Pack("getNonce", sender, key)
}

func unpackNonce(data []byte) (*big.Int, error) {
	out, err := entryPointABI.Unpack("getNonce", data)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getNonce: unexpected return type")
	}
	return nonce, nil
}

func packGetUserOpHash(op *packedOp) ([]byte, error) {
	return entryPointABI.Pack("getUserOpHash", op)
}

func unpackUserOpHash(data []byte) (common.Hash, error) {
	out, err := entryPointABI.Unpack("getUserOpHash", data)
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("getUserOpHash: unexpected return type")
	}
	return common.Hash(raw), nil
}

func packExecute(dest common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return accountABI.Pack("execute", dest, value, data)
}
