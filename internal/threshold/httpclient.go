package threshold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/accounts"

	"github.com/dotheaven/heaven-core/internal/logging"
)

// HTTPClient implements Client against the network's HTTP relay API.
type HTTPClient struct {
	relayURL string
	network  string
	http     *http.Client
	log      logging.Logger
}

func NewHTTPClient(relayURL, network string, timeout time.Duration, log logging.Logger) *HTTPClient {
	return &HTTPClient{
		relayURL: relayURL,
		network:  network,
		http:     &http.Client{Timeout: timeout},
		log:      log.With("component", "threshold"),
	}
}

func (c *HTTPClient) Network() string { return c.network }

type executeRequest struct {
	Network    string         `json:"network"`
	Session    SessionKeyPair `json:"sessionKeyPair"`
	Delegation DelegationSig  `json:"delegationAuthSig"`
	IpfsID     string         `json:"ipfsId,omitempty"`
	Code       string         `json:"code,omitempty"`
	Params     any            `json:"jsParams,omitempty"`
}

type executeResponse struct {
	Success    bool                 `json:"success"`
	Response   json.RawMessage      `json:"response"`
	Logs       string               `json:"logs"`
	Signatures map[string]Signature `json:"signatures"`
	Error      string               `json:"error"`
}

func (c *HTTPClient) Execute(ctx context.Context, action Action, params any, auth *AuthContext) (*ExecuteResult, error) {
	req := executeRequest{
		Network:    c.network,
		Session:    auth.Session,
		Delegation: auth.Delegation,
		Params:     params,
	}
	if action.IsReference() {
		req.IpfsID = action.CID()
	} else {
		req.Code = action.Code()
	}

	var resp executeResponse
	if err := c.post(ctx, "/execute", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		if sentinel := classifyRemoteError(resp.Error); sentinel != nil {
			return nil, fmt.Errorf("%w: %s", sentinel, resp.Error)
		}
		return nil, fmt.Errorf("program execution failed: %s", resp.Error)
	}

	return &ExecuteResult{
		Success:    resp.Success,
		Response:   resp.Response,
		Logs:       resp.Logs,
		Signatures: resp.Signatures,
	}, nil
}

type signRequest struct {
	Network           string         `json:"network"`
	Session           SessionKeyPair `json:"sessionKeyPair"`
	Delegation        DelegationSig  `json:"delegationAuthSig"`
	ToSign            string         `json:"toSign"`
	PublicKey         string         `json:"publicKey"`
	BypassAutoHashing bool           `json:"bypassAutoHashing"`
}

type signResponse struct {
	Signature *Signature `json:"signature"`
	Error     string     `json:"error"`
}

func (c *HTTPClient) Sign(ctx context.Context, digest [32]byte, publicKey string, auth *AuthContext) (*Signature, error) {
	req := signRequest{
		Network:           c.network,
		Session:           auth.Session,
		Delegation:        auth.Delegation,
		ToSign:            fmt.Sprintf("0x%x", digest[:]),
		PublicKey:         publicKey,
		BypassAutoHashing: true,
	}

	var resp signResponse
	if err := c.post(ctx, "/sign", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		if sentinel := classifyRemoteError(resp.Error); sentinel != nil {
			return nil, fmt.Errorf("%w: %s", sentinel, resp.Error)
		}
		return nil, fmt.Errorf("threshold signing failed: %s", resp.Error)
	}
	if resp.Signature == nil {
		return nil, fmt.Errorf("threshold signing returned no signature")
	}
	return resp.Signature, nil
}

func (c *HTTPClient) PersonalSign(ctx context.Context, msg string, publicKey string, auth *AuthContext) ([]byte, error) {
	var digest [32]byte
	copy(digest[:], accounts.TextHash([]byte(msg)))

	sig, err := c.Sign(ctx, digest, publicKey, auth)
	if err != nil {
		return nil, err
	}
	return sig.Bytes()
}

type delegateRequest struct {
	Network          string   `json:"network"`
	AuthData         AuthData `json:"authData"`
	SessionPublicKey string   `json:"sessionPublicKey"`
	Abilities        []string `json:"abilities"`
	Expiration       string   `json:"expiration"`
}

type delegateResponse struct {
	Delegation *DelegationSig `json:"delegationAuthSig"`
	Error      string         `json:"error"`
}

func (c *HTTPClient) Delegate(ctx context.Context, authData AuthData, sessionPublicKey string, abilities []string, ttl time.Duration) (*DelegationSig, error) {
	req := delegateRequest{
		Network:          c.network,
		AuthData:         authData,
		SessionPublicKey: sessionPublicKey,
		Abilities:        abilities,
		Expiration:       time.Now().UTC().Add(ttl).Format(time.RFC3339),
	}

	var resp delegateResponse
	if err := c.post(ctx, "/delegate", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("delegation request failed: %s", resp.Error)
	}
	if resp.Delegation == nil {
		return nil, fmt.Errorf("delegation request returned no signature")
	}
	return resp.Delegation, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read relay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if sentinel := classifyRemoteError(msg); sentinel != nil {
			return fmt.Errorf("%w: relay status %d: %s", sentinel, resp.StatusCode, msg)
		}
		return fmt.Errorf("relay status %d: %s", resp.StatusCode, msg)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse relay response: %w", err)
	}
	return nil
}
