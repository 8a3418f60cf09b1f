// heavenctl is a thin driver over the heaven client core: credential status,
// storage funding, content upload/registration, grants, and playlist shares.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/dotheaven/heaven-core/internal/access"
	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/buildinfo"
	"github.com/dotheaven/heaven-core/internal/config"
	"github.com/dotheaven/heaven-core/internal/index"
	"github.com/dotheaven/heaven-core/internal/keystore"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/registry"
	"github.com/dotheaven/heaven-core/internal/share"
	"github.com/dotheaven/heaven-core/internal/storage"
	"github.com/dotheaven/heaven-core/internal/threshold"
	"github.com/dotheaven/heaven-core/internal/userop"
)

const usage = `usage: heavenctl <command> [args]

commands:
  status                                  credential and storage-credit status
  fund <amount-eth>                       deposit storage credit via a sponsored transfer
  upload <file> [title] [artist] [album]  resolve-or-register one track
  save-forever <file> [title] [artist] [album]
                                          register if needed, flag the record permanent
  open <content-id> <out-file>            fetch and decrypt registered content
  grant <content-id> <grantee>            grant decryption access
  revoke <content-id>                     revoke a registration
  share <playlist-id> <grantee> <file>... share a playlist of tracks
`

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.close()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("%v", err)
	}
}

type app struct {
	cfg *config.Config
	log logging.Logger

	resolver *auth.Resolver
	keys     keystore.Store
	store    *storage.Service
	repos    *index.Repositories
	registry *registry.Service
	access   *access.Manager
	share    *share.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	keys := keystore.NewFileStore(cfg.KeystorePath, keystoreSecret())
	client := threshold.NewHTTPClient(cfg.ThresholdRelayURL, cfg.ThresholdNetwork, cfg.HTTPTimeout, logger)
	resolver := auth.NewResolver(keys, client, time.Duration(cfg.SessionTTLDays)*24*time.Hour, logger)

	chain, err := ethclient.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if err := checkChainID(chainID, cfg.ChainID); err != nil {
		return nil, err
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}

	gateway := userop.NewGateway(cfg.GatewayURL, cfg.GatewayToken, cfg.HTTPTimeout, logger)
	submitter := userop.NewSubmitter(chain, rpcClient, gateway, client,
		ethcommon.HexToAddress(cfg.EntryPointAddr), ethcommon.HexToAddress(cfg.AccountFactoryAddr),
		cfg.ReceiptPollInterval, cfg.ReceiptPollAttempts, logger)

	s3Client, err := storage.NewS3Client(ctx, cfg.StorageEndpoint, cfg.StorageRegion,
		cfg.StorageAccessKeyID, cfg.StorageSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage client: %w", err)
	}
	minCredit, err := decimal.NewFromString(cfg.MinCreditBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum credit balance %q: %w", cfg.MinCreditBalance, err)
	}
	funding := storage.NewFundingClient(cfg.FundingServiceURL, cfg.HTTPTimeout, logger)
	store := storage.NewService(storage.NewObjectStore(s3Client, cfg.StorageBucket),
		funding, submitter, cfg.StorageGatewayURLs, minCredit, cfg.HTTPTimeout, logger)

	repos, err := index.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open local index: %w", err)
	}

	actions := threshold.NewRegistry(cfg.ThresholdNetwork)
	contentKeys := keystore.NewContentKeyStore(filepath.Join(filepath.Dir(cfg.KeystorePath), "content_key.hex"))

	reg := registry.NewService(client, actions, store, repos.Uploaded, contentKeys, logger)
	acc := access.NewManager(client, actions, repos.Uploaded, repos.Grants, cfg.AccessMirrorAddr, logger)
	orch := share.NewOrchestrator(reg, acc, client, actions, logger)

	return &app{
		cfg:      cfg,
		log:      logger,
		resolver: resolver,
		keys:     keys,
		store:    store,
		repos:    repos,
		registry: reg,
		access:   acc,
		share:    orch,
	}, nil
}

func (a *app) close() {
	if a.repos != nil && a.repos.DB != nil {
		a.repos.DB.Close()
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "status":
		return a.status(ctx)
	case "fund":
		return a.fund(ctx, args)
	case "upload":
		return a.upload(ctx, args)
	case "save-forever":
		return a.saveForever(ctx, args)
	case "open":
		return a.open(ctx, args)
	case "grant":
		return a.grant(ctx, args)
	case "revoke":
		return a.revoke(ctx, args)
	case "share":
		return a.sharePlaylist(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// session resolves a verified signing context for the persisted credential.
// A configured sponsor wallet is attached so registrations execute on the
// sponsor's dime.
func (a *app) session(ctx context.Context) (*auth.Session, error) {
	cred, err := a.keys.Load(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := a.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	session := auth.NewSession(cred, resolved)
	if a.cfg.SponsorPrivateKey != "" {
		ttl := time.Duration(a.cfg.SessionTTLDays) * 24 * time.Hour
		if err := session.AttachSponsor(a.cfg.SponsorPrivateKey, a.cfg.ThresholdNetwork, ttl); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (a *app) status(ctx context.Context) error {
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	st, err := a.store.Status(ctx, session.Owner)
	if err != nil {
		return err
	}
	fmt.Printf("wallet:  %s\n", session.Owner)
	fmt.Printf("balance: %s (minimum %s)\n", st.Balance, st.MinCredit)
	if st.Ready {
		fmt.Println("storage: ready for uploads")
	} else {
		fmt.Println("storage: add funds before uploading")
	}
	return nil
}

func (a *app) fund(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: heavenctl fund <amount-eth>")
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[0], err)
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	balance, err := a.store.Fund(ctx, ethcommon.HexToAddress(session.Owner), session.PublicKey, session.Auth, amount)
	if err != nil {
		return err
	}
	fmt.Printf("funded; new balance: %s\n", balance)
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: heavenctl upload <file> [title] [artist] [album]")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	rec, err := a.registry.ResolveOrRegister(ctx, session, args[0], trackMetaFromArgs(args))
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func (a *app) saveForever(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: heavenctl save-forever <file> [title] [artist] [album]")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	rec, err := a.registry.SaveForever(ctx, session, args[0], trackMetaFromArgs(args))
	if err != nil {
		return err
	}
	printRecord(rec)
	fmt.Println("saved forever: record flagged permanent")
	return nil
}

func trackMetaFromArgs(args []string) registry.TrackMeta {
	meta := registry.TrackMeta{}
	if len(args) > 1 {
		meta.Title = args[1]
	}
	if len(args) > 2 {
		meta.Artist = args[2]
	}
	if len(args) > 3 {
		meta.Album = args[3]
	}
	return meta
}

func printRecord(rec *index.UploadedRecord) {
	fmt.Printf("contentId: %s\npieceRef:  %s\ngateway:   %s\n", rec.ContentID, rec.PieceRef, rec.GatewayURL)
	if rec.TxHash != "" {
		fmt.Printf("txHash:    %s\n", rec.TxHash)
	}
}

func (a *app) open(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: heavenctl open <content-id> <out-file>")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	plain, err := a.registry.Open(ctx, session, args[0])
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], plain, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", len(plain), args[1])
	return nil
}

func (a *app) grant(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: heavenctl grant <content-id> <grantee>")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	receipt, err := a.access.Grant(ctx, session, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("granted (tx %s)\n", orNA(receipt.TxHash))
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: heavenctl revoke <content-id>")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	receipt, err := a.access.Revoke(ctx, session, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("revoked (tx %s)\n", orNA(receipt.TxHash))
	return nil
}

func (a *app) sharePlaylist(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: heavenctl share <playlist-id> <grantee> <file>...")
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}

	tracks := make([]share.TrackRef, 0, len(args)-2)
	for _, path := range args[2:] {
		tracks = append(tracks, share.TrackRef{FilePath: path})
	}
	outcome, err := a.share.SharePlaylist(ctx, session, args[0], strings.ToLower(args[1]), tracks)
	if err != nil {
		return err
	}
	fmt.Println(outcome.Summary())
	return nil
}

// checkChainID guards against a misconfigured RPC endpoint: signing for one
// chain while talking to another produces confusing downstream failures.
func checkChainID(got *big.Int, want int64) error {
	if want == 0 {
		return nil
	}
	if got == nil || !got.IsInt64() || got.Int64() != want {
		return fmt.Errorf("rpc endpoint serves chain %v, configuration expects %d", got, want)
	}
	return nil
}

// keystoreSecret is the at-rest encryption secret for the credential file:
// an explicit override, or stable per-machine material.
func keystoreSecret() []byte {
	if v := os.Getenv("HEAVEN_KEYSTORE_SECRET"); v != "" {
		return []byte(v)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "heaven"
	}
	return []byte("heaven-keystore:" + host)
}

func orNA(v string) string {
	if v == "" {
		return "n/a"
	}
	return v
}
