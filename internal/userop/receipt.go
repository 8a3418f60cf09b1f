package userop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sethvargo/go-retry"

	"github.com/dotheaven/heaven-core/internal/logging"
)

// Receipt is the bundler's user operation receipt, reduced to the fields
// callers act on.
type Receipt struct {
	Success *bool  `json:"success"`
	Reason  string `json:"reason"`
	Receipt struct {
		TransactionHash string `json:"transactionHash"`
	} `json:"receipt"`
}

// Succeeded reports whether the bundler marked the operation successful.
// Bundlers that omit the flag are treated as successful.
func (r *Receipt) Succeeded() bool {
	return r.Success == nil || *r.Success
}

var errNoReceiptYet = errors.New("user operation receipt not available yet")

// unsupportedMarkers identify RPC nodes without bundler receipt support.
// Missing support makes polling pointless, not the submission failed.
var unsupportedMarkers = []string{
	"method not found",
	"does not exist",
	"unsupported",
}

// PollReceipt waits for the user operation receipt, sleeping before each
// attempt. It returns (nil, nil) when the node lacks receipt support or the
// receipt never appeared within the attempt budget.
func PollReceipt(ctx context.Context, caller RPCCaller, userOpHash string, interval time.Duration, attempts int, log logging.Logger) (*Receipt, error) {
	if attempts < 1 {
		attempts = 1
	}

	var receipt *Receipt
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		var raw json.RawMessage
		if err := caller.CallContext(ctx, &raw, "eth_getUserOperationReceipt", userOpHash); err != nil {
			if isUnsupportedReceiptMethod(err) {
				log.Warn(ctx, "node does not support user operation receipts, skipping confirmation")
				return nil
			}
			log.Warn(ctx, "receipt query failed, will retry", "error", err)
			return retry.RetryableError(err)
		}
		if len(raw) == 0 || string(raw) == "null" {
			return retry.RetryableError(errNoReceiptYet)
		}

		var r Receipt
		if err := sonic.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decode receipt: %w", err)
		}
		receipt = &r
		return nil
	})
	if err != nil {
		if errors.Is(err, errNoReceiptYet) {
			return nil, nil
		}
		return nil, err
	}
	return receipt, nil
}

func isUnsupportedReceiptMethod(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range unsupportedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
