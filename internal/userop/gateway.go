package userop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sethvargo/go-retry"

	"github.com/dotheaven/heaven-core/internal/logging"
)

// Transient gateway failures are retried twice with linear backoff.
const (
	gatewayRetryCount     = 2
	gatewayRetryBaseDelay = 600 * time.Millisecond
)

type quoteRequest struct {
	UserOp *UserOperation `json:"userOp"`
}

type quoteResponse struct {
	PaymasterAndData string `json:"paymasterAndData"`
}

type sendRequest struct {
	UserOp     *UserOperation `json:"userOp"`
	UserOpHash string         `json:"userOpHash"`
}

type sendResponse struct {
	UserOpHash string `json:"userOpHash"`
	Error      string `json:"error"`
	Detail     string `json:"detail"`
}

// Gateway talks to the sponsorship gateway that quotes paymaster data and
// relays signed user operations to a bundler.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logging.Logger
}

func NewGateway(baseURL, token string, timeout time.Duration, log logging.Logger) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "gateway"),
	}
}

// QuotePaymaster asks the gateway to sponsor the operation and returns the
// paymasterAndData blob to embed before signing.
func (g *Gateway) QuotePaymaster(ctx context.Context, op *UserOperation) (string, error) {
	var resp quoteResponse
	if err := g.postJSON(ctx, "/quotePaymaster", quoteRequest{UserOp: op}, &resp); err != nil {
		return "", fmt.Errorf("paymaster quote: %w", err)
	}
	if resp.PaymasterAndData == "" {
		return "", fmt.Errorf("paymaster quote: gateway returned no paymasterAndData")
	}
	return resp.PaymasterAndData, nil
}

// SendUserOp relays the signed operation. The returned hash is the gateway's
// view of the user operation hash, falling back to ours when omitted.
func (g *Gateway) SendUserOp(ctx context.Context, op *UserOperation, userOpHash string) (string, error) {
	var resp sendResponse
	if err := g.postJSON(ctx, "/sendUserOp", sendRequest{UserOp: op, UserOpHash: userOpHash}, &resp); err != nil {
		return "", fmt.Errorf("send user operation: %w", err)
	}
	if resp.Error != "" {
		if resp.Detail != "" {
			return "", fmt.Errorf("send user operation: %s: %s", resp.Error, resp.Detail)
		}
		return "", fmt.Errorf("send user operation: %s", resp.Error)
	}
	if resp.UserOpHash != "" {
		return resp.UserOpHash, nil
	}
	return userOpHash, nil
}

// postJSON posts a JSON body and decodes the JSON response, retrying
// transport errors and transient status codes.
func (g *Gateway) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(gatewayRetryCount, retry.NewExponential(gatewayRetryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			g.log.Warn(ctx, "gateway request failed, will retry", "path", path, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if isTransientStatus(resp.StatusCode) {
			g.log.Warn(ctx, "gateway returned transient status, will retry",
				"path", path, "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return sonic.Unmarshal(raw, out)
	})
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
