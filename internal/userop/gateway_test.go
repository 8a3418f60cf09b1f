package userop

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotheaven/heaven-core/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testOp() *UserOperation {
	return &UserOperation{
		Sender:             "0x52908400098527886E0F7030069857D2E4169EE7",
		Nonce:              "0x0",
		InitCode:           "0x",
		CallData:           "0xdeadbeef",
		AccountGasLimits:   "0x000000000000000000000000001e8480000000000000000000000000001e8480",
		PreVerificationGas: "0x186a0",
		GasFees:            "0x000000000000000000000000000f4240000000000000000000000000001e8480",
		PaymasterAndData:   "0x",
		Signature:          "0x",
	}
}

func TestGateway_QuotePaymaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quotePaymaster", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req quoteRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, "0xdeadbeef", req.UserOp.CallData)

		_, _ = w.Write([]byte(`{"paymasterAndData":"0xpm"}`))
	}))
	defer srv.Close()

	g := NewGateway(srv.URL+"/", "secret", 0, testLogger())
	got, err := g.QuotePaymaster(context.Background(), testOp())
	require.NoError(t, err)
	assert.Equal(t, "0xpm", got)
}

func TestGateway_QuotePaymaster_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewGateway(srv.URL, "", 0, testLogger()).QuotePaymaster(context.Background(), testOp())
	require.ErrorContains(t, err, "no paymasterAndData")
}

func TestGateway_SendUserOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sendUserOp", r.URL.Path)
		var req sendRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, "0xhash", req.UserOpHash)
		_, _ = w.Write([]byte(`{"userOpHash":"0xbundler-hash"}`))
	}))
	defer srv.Close()

	got, err := NewGateway(srv.URL, "", 0, testLogger()).SendUserOp(context.Background(), testOp(), "0xhash")
	require.NoError(t, err)
	assert.Equal(t, "0xbundler-hash", got)
}

func TestGateway_SendUserOp_FallsBackToLocalHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	got, err := NewGateway(srv.URL, "", 0, testLogger()).SendUserOp(context.Background(), testOp(), "0xhash")
	require.NoError(t, err)
	assert.Equal(t, "0xhash", got)
}

func TestGateway_SendUserOp_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"rejected","detail":"paymaster balance too low"}`))
	}))
	defer srv.Close()

	_, err := NewGateway(srv.URL, "", 0, testLogger()).SendUserOp(context.Background(), testOp(), "0xhash")
	require.ErrorContains(t, err, "rejected")
	require.ErrorContains(t, err, "paymaster balance too low")
}

func TestGateway_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"paymasterAndData":"0xpm"}`))
	}))
	defer srv.Close()

	got, err := NewGateway(srv.URL, "", 0, testLogger()).QuotePaymaster(context.Background(), testOp())
	require.NoError(t, err)
	assert.Equal(t, "0xpm", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	_, err := NewGateway(srv.URL, "", 0, testLogger()).QuotePaymaster(context.Background(), testOp())
	require.ErrorContains(t, err, "gateway status 401")
	assert.Equal(t, int32(1), calls.Load())
}
