package storage

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
	"github.com/shopspring/decimal"

	"github.com/dotheaven/heaven-core/internal/logging"
)

// Deposit confirmations lag the chain; the funding service is polled a few
// times before giving up.
const submitFundAttempts = 5

var submitFundInterval = 3 * time.Second

// FundingClient talks to the funding service that tracks storage credit
// balances and converts chain deposits into credit.
type FundingClient struct {
	baseURL    string
	httpClient *http.Client
	log        logging.Logger
}

func NewFundingClient(baseURL string, timeout time.Duration, log logging.Logger) *FundingClient {
	return &FundingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "funding"),
	}
}

type balanceRequest struct {
	Token       string `json:"token"`
	UserAddress string `json:"userAddress"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance returns the storage credit balance for a wallet.
func (c *FundingClient) Balance(ctx context.Context, token, userAddress string) (decimal.Decimal, error) {
	var resp balanceResponse
	err := c.postJSON(ctx, "/turbo/balance", balanceRequest{Token: token, UserAddress: userAddress}, &resp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance check: %w", err)
	}
	if resp.Balance == "" {
		return decimal.Zero, nil
	}
	balance, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance check: unparseable balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

type walletsResponse struct {
	Wallets map[string]string `json:"wallets"`
}

// DepositWallet resolves the deposit address for a funding token.
func (c *FundingClient) DepositWallet(ctx context.Context, token string) (string, error) {
	var resp walletsResponse
	if err := c.getJSON(ctx, "/turbo/wallets", &resp); err != nil {
		return "", fmt.Errorf("resolve deposit wallet: %w", err)
	}
	addr := strings.TrimSpace(resp.Wallets[token])
	if addr == "" {
		return "", fmt.Errorf("resolve deposit wallet: no deposit wallet for token %q", token)
	}
	return addr, nil
}

type submitFundRequest struct {
	Token       string `json:"token"`
	UserAddress string `json:"userAddress"`
	TxHash      string `json:"txHash"`
}

// SubmitFund notifies the funding service of a deposit transaction and waits
// for it to be credited, retrying while the service has not seen the
// transaction yet.
func (c *FundingClient) SubmitFund(ctx context.Context, token, userAddress, txHash string) error {
	attempt := 0
	backoff := retry.WithMaxRetries(submitFundAttempts-1, retry.NewConstant(submitFundInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.postJSON(ctx, "/turbo/submit-fund",
			submitFundRequest{Token: token, UserAddress: userAddress, TxHash: txHash}, &struct{}{})
		if err != nil {
			c.log.Warn(ctx, "submit-fund attempt failed",
				"attempt", attempt, "of", submitFundAttempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("submit-fund failed after retries: %w", err)
	}
	return nil
}

func (c *FundingClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FundingClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *FundingClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("funding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return sonic.Unmarshal(raw, out)
}
