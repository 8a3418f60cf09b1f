package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/threshold"
	"github.com/dotheaven/heaven-core/internal/userop"
)

// maxUploadBytes is the client-side upload size cap.
const maxUploadBytes = 500 * 1024 * 1024

// fundingToken is the only deposit route the funding flow supports: a native
// transfer on the configured chain.
const fundingToken = "base-eth"

var weiPerEth = decimal.New(1, 18)

// PieceStore is the object-store surface the service needs.
type PieceStore interface {
	Put(ctx context.Context, blob []byte, contentType string) (string, error)
	Has(ctx context.Context, pieceRef string) (bool, error)
	Get(ctx context.Context, pieceRef string) ([]byte, error)
	GetRange(ctx context.Context, pieceRef string, from, to int64) ([]byte, error)
}

// TransferSubmitter submits a sponsored native transfer. Satisfied by
// *userop.Submitter.
type TransferSubmitter interface {
	Submit(ctx context.Context, owner ethcommon.Address, call userop.Call, publicKey string, auth *threshold.AuthContext) (*userop.Result, error)
}

// Status is the storage account state shown to the user.
type Status struct {
	Balance   decimal.Decimal
	MinCredit decimal.Decimal
	Ready     bool
}

// Uploaded locates one stored piece.
type Uploaded struct {
	PieceRef   string
	GatewayURL string
}

// Service is the mutex-guarded storage handle. Callers acquire it for one
// synchronous unit of work; no lock is held across the funding flow's
// on-chain wait.
type Service struct {
	mu sync.Mutex

	store     PieceStore
	funding   *FundingClient
	submitter TransferSubmitter
	log       logging.Logger

	gatewayURLs []string
	minCredit   decimal.Decimal
	httpClient  *http.Client
}

func NewService(store PieceStore, funding *FundingClient, submitter TransferSubmitter,
	gatewayURLs []string, minCredit decimal.Decimal, httpTimeout time.Duration, log logging.Logger) *Service {
	return &Service{
		store:       store,
		funding:     funding,
		submitter:   submitter,
		log:         log.With("component", "storage"),
		gatewayURLs: gatewayURLs,
		minCredit:   minCredit,
		httpClient:  &http.Client{Timeout: httpTimeout},
	}
}

// Status reports the credit balance and upload readiness for a wallet.
func (s *Service) Status(ctx context.Context, owner string) (*Status, error) {
	balance, err := s.funding.Balance(ctx, fundingToken, owner)
	if err != nil {
		return nil, err
	}
	return &Status{
		Balance:   balance,
		MinCredit: s.minCredit,
		Ready:     balance.GreaterThanOrEqual(s.minCredit),
	}, nil
}

// Preflight verifies an upload can proceed: size within the cap and credit
// at or above the minimum.
func (s *Service) Preflight(ctx context.Context, owner string, sizeBytes int) error {
	if sizeBytes > maxUploadBytes {
		return fmt.Errorf("file exceeds the upload limit (%d bytes)", maxUploadBytes)
	}

	balance, err := s.funding.Balance(ctx, fundingToken, owner)
	if err != nil {
		return fmt.Errorf("credit check failed before upload: %w", err)
	}
	if balance.LessThan(s.minCredit) {
		return fmt.Errorf("%w (minimum %s, balance %s): add funds first",
			common.ErrQuotaExhausted, s.minCredit.String(), balance.String())
	}
	return nil
}

// Upload stores one encrypted blob and returns its piece reference plus the
// gateway URL it resolves at.
func (s *Service) Upload(ctx context.Context, blob []byte, contentType string) (*Uploaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(blob) > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds the upload limit (%d bytes)", maxUploadBytes)
	}
	ref, err := s.store.Put(ctx, blob, contentType)
	if err != nil {
		return nil, err
	}
	return &Uploaded{PieceRef: ref, GatewayURL: s.resolveURL("", ref)}, nil
}

// Fetch retrieves a stored blob, trying the recorded gateway URL first and
// falling back to the configured gateways, then the object store itself.
func (s *Service) Fetch(ctx context.Context, pieceRef, recordedURL string) ([]byte, error) {
	var lastErr error
	for _, url := range s.fetchURLs(pieceRef, recordedURL) {
		blob, err := s.httpFetch(ctx, url)
		if err != nil {
			s.log.Warn(ctx, "gateway fetch failed, trying next", "url", url, "error", err)
			lastErr = err
			continue
		}
		return blob, nil
	}

	blob, err := s.store.Get(ctx, pieceRef)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("all gateways failed (%v); direct fetch: %w", lastErr, err)
		}
		return nil, err
	}
	return blob, nil
}

// Fund deposits native currency into the storage credit account: resolve the
// deposit wallet, submit a sponsored transfer, notify the funding service,
// and return the refreshed balance.
func (s *Service) Fund(ctx context.Context, owner ethcommon.Address, publicKey string, auth *threshold.AuthContext, amountEth decimal.Decimal) (decimal.Decimal, error) {
	if amountEth.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("funding amount must be positive")
	}

	deposit, err := s.funding.DepositWallet(ctx, fundingToken)
	if err != nil {
		return decimal.Zero, err
	}
	if !ethcommon.IsHexAddress(deposit) {
		return decimal.Zero, fmt.Errorf("funding service returned invalid deposit address %q", deposit)
	}

	wei := amountEth.Mul(weiPerEth).BigInt()
	s.log.Info(ctx, "submitting funding deposit",
		"user", owner.Hex(), "deposit", deposit, "amountEth", amountEth.String())

	res, err := s.submitter.Submit(ctx, owner,
		userop.Call{To: ethcommon.HexToAddress(deposit), Value: wei}, publicKey, auth)
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding transfer: %w", err)
	}

	txHash := res.TxHash
	if txHash == "" {
		txHash = res.UserOpHash
	}
	if err := s.funding.SubmitFund(ctx, fundingToken, owner.Hex(), txHash); err != nil {
		return decimal.Zero, err
	}

	balance, err := s.funding.Balance(ctx, fundingToken, owner.Hex())
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding completed but balance refresh failed: %w", err)
	}
	s.log.Info(ctx, "funding flow complete", "txHash", txHash, "balance", balance.String())
	return balance, nil
}

func (s *Service) resolveURL(base, pieceRef string) string {
	if base == "" {
		if len(s.gatewayURLs) == 0 {
			return ""
		}
		base = s.gatewayURLs[0]
	}
	return strings.TrimRight(base, "/") + "/resolve/" + pieceRef
}

// fetchURLs orders candidate URLs for a fetch: the recorded URL first, then
// every configured gateway, deduplicated.
func (s *Service) fetchURLs(pieceRef, recordedURL string) []string {
	urls := make([]string, 0, len(s.gatewayURLs)+1)
	seen := map[string]bool{}
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	add(recordedURL)
	for _, base := range s.gatewayURLs {
		add(s.resolveURL(base, pieceRef))
	}
	return urls
}

func (s *Service) httpFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// IsQuotaError classifies quota failures, both local preflight errors and
// remote error text mentioning exhausted credit.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, common.ErrQuotaExhausted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "credit is below minimum") ||
		strings.Contains(msg, "credit below minimum") ||
		strings.Contains(msg, "insufficient storage credit")
}
