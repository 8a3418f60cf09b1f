package userop

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// Call is the inner smart account call a user operation executes.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Result reports a submitted operation: the smart account, the user
// operation hash, and the transaction hash when a receipt arrived.
type Result struct {
	Sender     common.Address
	UserOpHash string
	TxHash     string
}

// Submitter drives a call through the sponsored ERC-4337 pipeline.
//
// Contract:
//   - Submit derives the counterfactual account from the owner, deploys it
//     via initCode on first use, and signs the operation with the delegated
//     threshold key.
//   - A missing receipt is not a failure; a receipt with success=false is.
type Submitter struct {
	chain   ChainReader
	rpc     RPCCaller
	gateway *Gateway
	signer  threshold.Client
	log     logging.Logger

	entryPoint common.Address
	factory    common.Address

	pollInterval time.Duration
	pollAttempts int
}

func NewSubmitter(chain ChainReader, rpc RPCCaller, gateway *Gateway, signer threshold.Client,
	entryPoint, factory common.Address, pollInterval time.Duration, pollAttempts int, log logging.Logger) *Submitter {
	return &Submitter{
		chain:        chain,
		rpc:          rpc,
		gateway:      gateway,
		signer:       signer,
		log:          log.With("component", "userop"),
		entryPoint:   entryPoint,
		factory:      factory,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// Submit runs the full pipeline: build, quote, hash, sign, send, confirm.
func (s *Submitter) Submit(ctx context.Context, owner common.Address, call Call, publicKey string, auth *threshold.AuthContext) (*Result, error) {
	sender, err := s.accountAddress(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("derive smart account: %w", err)
	}

	initCode, err := s.initCode(ctx, sender, owner)
	if err != nil {
		return nil, err
	}

	nonce, err := s.nonce(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("entry point nonce: %w", err)
	}

	callData, err := packExecute(call.To, call.Value, call.Data)
	if err != nil {
		return nil, fmt.Errorf("pack execute calldata: %w", err)
	}

	gasLimits := packUints128(verificationGasLimit, callGasLimit)
	gasFees := packUints128(maxPriorityFeePerGas, maxFeePerGas)

	op := &UserOperation{
		Sender:             sender.Hex(),
		Nonce:              hexutil.EncodeBig(nonce),
		InitCode:           hexutil.Encode(initCode),
		CallData:           hexutil.Encode(callData),
		AccountGasLimits:   hexutil.Encode(gasLimits[:]),
		PreVerificationGas: hexutil.EncodeUint64(preVerificationGas),
		GasFees:            hexutil.Encode(gasFees[:]),
		PaymasterAndData:   "0x",
		Signature:          "0x",
	}

	paymasterAndData, err := s.gateway.QuotePaymaster(ctx, op)
	if err != nil {
		return nil, err
	}
	op.PaymasterAndData = paymasterAndData

	userOpHash, err := s.userOpHash(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("user operation hash: %w", err)
	}

	signature, err := s.signUserOpHash(ctx, userOpHash, publicKey, auth)
	if err != nil {
		return nil, fmt.Errorf("sign user operation: %w", err)
	}
	op.Signature = signature

	sentHash, err := s.gateway.SendUserOp(ctx, op, userOpHash.Hex())
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user operation submitted", "sender", sender.Hex(), "userOpHash", sentHash)

	result := &Result{Sender: sender, UserOpHash: sentHash}

	receipt, err := PollReceipt(ctx, s.rpc, sentHash, s.pollInterval, s.pollAttempts, s.log)
	if err != nil {
		s.log.Warn(ctx, "receipt polling failed, operation may still confirm",
			"userOpHash", sentHash, "error", err)
		return result, nil
	}
	if receipt == nil {
		s.log.Warn(ctx, "no receipt within the polling window, operation may still confirm",
			"userOpHash", sentHash)
		return result, nil
	}

	result.TxHash = receipt.Receipt.TransactionHash
	if !receipt.Succeeded() {
		reason := receipt.Reason
		if reason == "" {
			reason = "unknown revert"
		}
		return nil, fmt.Errorf("user operation reverted on chain: %s (tx %s)", reason, result.TxHash)
	}

	s.log.Info(ctx, "user operation confirmed", "txHash", result.TxHash)
	return result, nil
}

func (s *Submitter) accountAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	data, err := packGetAddress(owner, new(big.Int))
	if err != nil {
		return common.Address{}, err
	}
	out, err := ethCall(ctx, s.chain, s.factory, data)
	if err != nil {
		return common.Address{}, err
	}
	return unpackAddress("getAddress", factoryABI, out)
}

// initCode returns factory address plus createAccount calldata for an
// undeployed account, empty otherwise.
func (s *Submitter) initCode(ctx context.Context, sender, owner common.Address) ([]byte, error) {
	code, err := s.chain.CodeAt(ctx, sender, nil)
	if err != nil {
		return nil, fmt.Errorf("check account deployment: %w", err)
	}
	if len(code) > 0 {
		return []byte{}, nil
	}

	createCall, err := packCreateAccount(owner, new(big.Int))
	if err != nil {
		return nil, err
	}
	initCode := make([]byte, 0, len(s.factory)+len(createCall))
	initCode = append(initCode, s.factory.Bytes()...)
	initCode = append(initCode, createCall...)
	s.log.Info(ctx, "smart account not deployed yet, including init code", "sender", sender.Hex())
	return initCode, nil
}

func (s *Submitter) nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	data, err := packGetNonce(sender, new(big.Int))
	if err != nil {
		return nil, err
	}
	out, err := ethCall(ctx, s.chain, s.entryPoint, data)
	if err != nil {
		return nil, err
	}
	return unpackNonce(out)
}

// userOpHash asks the entry point for the canonical hash of the operation
// with an empty signature.
func (s *Submitter) userOpHash(ctx context.Context, op *UserOperation) (common.Hash, error) {
	packed, err := op.packed()
	if err != nil {
		return common.Hash{}, err
	}
	data, err := packGetUserOpHash(packed)
	if err != nil {
		return common.Hash{}, err
	}
	out, err := ethCall(ctx, s.chain, s.entryPoint, data)
	if err != nil {
		return common.Hash{}, err
	}
	return unpackUserOpHash(out)
}

// signUserOpHash signs the EIP-191 digest of the user operation hash with
// the delegated key and returns the 65-byte r||s||v signature as hex.
func (s *Submitter) signUserOpHash(ctx context.Context, userOpHash common.Hash, publicKey string, auth *threshold.AuthContext) (string, error) {
	var digest [32]byte
	copy(digest[:], accounts.TextHash(userOpHash.Bytes()))

	sig, err := s.signer.Sign(ctx, digest, publicKey, auth)
	if err != nil {
		return "", err
	}
	raw, err := sig.Bytes()
	if err != nil {
		return "", err
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("unexpected signature length %d, want 65", len(raw))
	}
	return hexutil.Encode(raw), nil
}
