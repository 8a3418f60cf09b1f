// Package userop submits sponsored transactions through an ERC-4337 entry
// point: it derives the smart account, builds and signs the packed user
// operation, routes it through the paymaster gateway, and waits for the
// receipt.
package userop

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Flat gas budget; generous limits the paymaster is willing to sponsor.
const (
	verificationGasLimit = 2_000_000
	callGasLimit         = 2_000_000
	preVerificationGas   = 100_000
	maxPriorityFeePerGas = 1_000_000
	maxFeePerGas         = 2_000_000
)

// UserOperation is the packed v0.7 wire shape: two gas words carry two
// 128-bit halves each.
type UserOperation struct {
	Sender             string `json:"sender"`
	Nonce              string `json:"nonce"`
	InitCode           string `json:"initCode"`
	CallData           string `json:"callData"`
	AccountGasLimits   string `json:"accountGasLimits"`
	PreVerificationGas string `json:"preVerificationGas"`
	GasFees            string `json:"gasFees"`
	PaymasterAndData   string `json:"paymasterAndData"`
	Signature          string `json:"signature"`
}

// packUints128 packs two values into one 32-byte word: high occupies the
// first 16 bytes, low the last 16, both big-endian.
func packUints128(high, low uint64) [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[8:16], high)
	binary.BigEndian.PutUint64(out[24:32], low)
	return out
}

// packedOp mirrors the entry point's PackedUserOperation tuple for ABI
// encoding.
type packedOp struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// packed converts the wire shape back into the ABI tuple. The signature is
// always empty: getUserOpHash ignores it and hashing happens pre-signature.
func (op *UserOperation) packed() (*packedOp, error) {
	nonce, err := hexutil.DecodeBig(op.Nonce)
	if err != nil {
		return nil, err
	}
	preVerification, err := hexutil.DecodeBig(op.PreVerificationGas)
	if err != nil {
		return nil, err
	}
	initCode, err := decodeHexField(op.InitCode)
	if err != nil {
		return nil, err
	}
	callData, err := decodeHexField(op.CallData)
	if err != nil {
		return nil, err
	}
	paymasterAndData, err := decodeHexField(op.PaymasterAndData)
	if err != nil {
		return nil, err
	}
	gasLimits, err := decodeHexWord(op.AccountGasLimits)
	if err != nil {
		return nil, err
	}
	gasFees, err := decodeHexWord(op.GasFees)
	if err != nil {
		return nil, err
	}

	return &packedOp{
		Sender:             common.HexToAddress(op.Sender),
		Nonce:              nonce,
		InitCode:           initCode,
		CallData:           callData,
		AccountGasLimits:   gasLimits,
		PreVerificationGas: preVerification,
		GasFees:            gasFees,
		PaymasterAndData:   paymasterAndData,
		Signature:          []byte{},
	}, nil
}

func decodeHexField(value string) ([]byte, error) {
	if value == "" || value == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(value)
}

func decodeHexWord(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(value)
	if err != nil {
		return out, err
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}
