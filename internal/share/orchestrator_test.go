package share

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotheaven/heaven-core/internal/access"
	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/index"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/registry"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

const (
	ownerAddress   = "0x52908400098527886E0F7030069857D2E4169EE7"
	granteeAddress = "0x1111111111111111111111111111111111111111"
	playlistID     = "0x0000000000000000000000000000000000000000000000000000000000000099"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSession() *auth.Session {
	return &auth.Session{
		Owner:     ownerAddress,
		PublicKey: "0x04aabbcc",
		Auth:      &threshold.AuthContext{Network: "naga-dev"},
	}
}

func track(name string) TrackRef {
	return TrackRef{FilePath: "/music/" + name + ".mp3", Meta: registry.TrackMeta{Title: name}}
}

func record(contentID string) *index.UploadedRecord {
	return &index.UploadedRecord{ContentID: contentID, PieceRef: "piece-" + contentID}
}

// fakeRegistrar scripts per-title outcomes.
type fakeRegistrar struct {
	records map[string]*index.UploadedRecord // title -> record
	errs    map[string]error                 // title -> full-path error

	registerCalls []string // titles routed through ResolveOrRegister
	resolveCalls  []string // titles routed through resolve-only
}

func (f *fakeRegistrar) ResolveOrRegister(ctx context.Context, session *auth.Session, filePath string, meta registry.TrackMeta) (*index.UploadedRecord, error) {
	f.registerCalls = append(f.registerCalls, meta.Title)
	return f.lookup(meta.Title)
}

func (f *fakeRegistrar) Resolve(ctx context.Context, session *auth.Session, filePath string, meta registry.TrackMeta) (*index.UploadedRecord, error) {
	f.resolveCalls = append(f.resolveCalls, meta.Title)
	return f.lookup(meta.Title)
}

func (f *fakeRegistrar) lookup(title string) (*index.UploadedRecord, error) {
	if err, ok := f.errs[title]; ok {
		return nil, err
	}
	if rec, ok := f.records[title]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("unscripted track %q", title)
}

// fakeGranter records batches and scripts one response.
type fakeGranter struct {
	receipt *access.Receipt
	err     error
	batches [][]string
}

func (f *fakeGranter) GrantBatch(ctx context.Context, session *auth.Session, contentIDs []string, grantee string) (*access.Receipt, error) {
	f.batches = append(f.batches, contentIDs)
	if f.receipt == nil && f.err == nil {
		return &access.Receipt{Granted: len(contentIDs), ContentIDs: contentIDs}, nil
	}
	return f.receipt, f.err
}

// fakeNet answers the share-record program.
type fakeNet struct {
	threshold.Client

	recordResp recordPayload
	signErr    error
	signed     []string
	params     []map[string]any
}

func (f *fakeNet) Network() string { return "naga-dev" }

func (f *fakeNet) PersonalSign(ctx context.Context, msg, pk string, auth *threshold.AuthContext) ([]byte, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signed = append(f.signed, msg)
	return []byte{0x02}, nil
}

func (f *fakeNet) Execute(ctx context.Context, action threshold.Action, params any, auth *threshold.AuthContext) (*threshold.ExecuteResult, error) {
	if m, ok := params.(map[string]any); ok {
		f.params = append(f.params, m)
	}
	raw, err := sonic.Marshal(f.recordResp)
	if err != nil {
		return nil, err
	}
	return &threshold.ExecuteResult{Success: f.recordResp.Success, Response: raw}, nil
}

type fixture struct {
	orch      *Orchestrator
	registrar *fakeRegistrar
	granter   *fakeGranter
	net       *fakeNet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registrar := &fakeRegistrar{records: map[string]*index.UploadedRecord{}, errs: map[string]error{}}
	granter := &fakeGranter{}
	net := &fakeNet{recordResp: recordPayload{Success: true}}
	orch := NewOrchestrator(registrar, granter, net, threshold.NewRegistry("naga-dev"), testLogger())
	return &fixture{orch: orch, registrar: registrar, granter: granter, net: net}
}

func TestSharePlaylist_AllTracksGranted(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.records["one"] = record("0xaaa1")
	fx.registrar.records["two"] = record("0xaaa2")

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one"), track("two")})
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Granted)
	assert.Equal(t, 2, outcome.Total)
	assert.True(t, outcome.FullSuccess())
	require.Len(t, fx.granter.batches, 1)
	assert.Equal(t, []string{"0xaaa1", "0xaaa2"}, fx.granter.batches[0], "grants follow submission order")
	require.Len(t, fx.net.signed, 1)
	assert.True(t, strings.HasPrefix(fx.net.signed[0], "heaven:playlist:share:"+playlistID))
}

func TestSharePlaylist_QuotaShortCircuit(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.records["one"] = record("0xaaa1")
	fx.registrar.errs["two"] = fmt.Errorf("upload blocked: %w", common.ErrQuotaExhausted)
	fx.registrar.records["three"] = record("0xaaa3")

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one"), track("two"), track("three")})
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Granted)
	assert.Equal(t, 2, outcome.Total)
	require.Len(t, outcome.Failures, 1)
	assert.Contains(t, outcome.Failures[0], "track 2")
	assert.False(t, outcome.FullSuccess(), "a quota-blocked track is not full success")

	// Track three must go through the resolve-only path: uploads are
	// disabled for the rest of the batch after a quota failure.
	assert.Equal(t, []string{"one", "two"}, fx.registrar.registerCalls)
	assert.Equal(t, []string{"three"}, fx.registrar.resolveCalls)
}

func TestSharePlaylist_DeduplicatesContentIDs(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.records["one"] = record("0xAAA1")
	fx.registrar.records["two"] = record("0xaaa1")

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one"), track("two")})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Total)
	require.Len(t, fx.granter.batches, 1)
	assert.Len(t, fx.granter.batches[0], 1)
}

func TestSharePlaylist_NothingToShare(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.errs["one"] = fmt.Errorf("resolve failed")
	fx.registrar.errs["two"] = fmt.Errorf("file missing")

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one"), track("two")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to share")
	assert.Contains(t, err.Error(), "resolve failed")
	assert.Len(t, outcome.Failures, 2)
	assert.Empty(t, fx.granter.batches, "no grant attempt without prepared tracks")
}

func TestSharePlaylist_GrantFailureKeepsPartialCount(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.records["one"] = record("0xaaa1")
	fx.registrar.records["two"] = record("0xaaa2")
	fx.granter.receipt = &access.Receipt{Granted: 1}
	fx.granter.err = fmt.Errorf("chunk rejected")

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one"), track("two")})
	require.NoError(t, err, "grant failures degrade into the outcome, not an error")

	assert.Equal(t, 1, outcome.Granted)
	require.Len(t, outcome.GrantErrors, 1)
	assert.Contains(t, outcome.GrantErrors[0], "chunk rejected")
	assert.False(t, outcome.FullSuccess())
}

func TestSharePlaylist_RecordFailureIsIndependent(t *testing.T) {
	fx := newFixture(t)
	fx.registrar.records["one"] = record("0xaaa1")
	fx.net.recordResp = recordPayload{Success: false, Error: "record rejected", Version: "v1"}

	outcome, err := fx.orch.SharePlaylist(context.Background(), testSession(),
		playlistID, granteeAddress, []TrackRef{track("one")})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Granted, "grants survive a record failure")
	require.Error(t, outcome.RecordErr)
	assert.Contains(t, outcome.RecordErr.Error(), "record rejected")
	assert.False(t, outcome.FullSuccess())
}

func TestRecordPlaylistShare_InvalidOperation(t *testing.T) {
	fx := newFixture(t)
	err := fx.orch.RecordPlaylistShare(context.Background(), testSession(), playlistID, granteeAddress, "gift")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid playlist share operation")
	assert.Empty(t, fx.net.signed)
}

func TestRecordPlaylistShare_Unshare(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.orch.RecordPlaylistShare(context.Background(), testSession(),
		playlistID, granteeAddress, "unshare"))
	require.Len(t, fx.net.params, 1)
	assert.Equal(t, "unshare", fx.net.params[0]["operation"])
	assert.True(t, strings.HasPrefix(fx.net.signed[0], "heaven:playlist:unshare:"))
}

func TestOutcome_Summary(t *testing.T) {
	o := &Outcome{
		Granted:  2,
		Total:    5,
		Failures: []string{"reason-1", "reason-2", "reason-3", "reason-4"},
	}
	s := o.Summary()
	assert.Contains(t, s, "granted 2/5")
	assert.Contains(t, s, "and 1 more", "only the first few reasons are spelled out")
	assert.NotContains(t, s, "reason-4")
}
