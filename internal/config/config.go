// Package config assembles runtime settings for the heaven client core.
//
// Sources are applied in order, later ones overriding earlier ones:
// defaults -> JSON file -> command-line flags -> environment (secrets).
package config

import "time"

// Config holds runtime settings for the client core.
type Config struct {
	// Threshold signing network.
	ThresholdNetwork  string
	ThresholdRelayURL string
	SessionTTLDays    int

	// Chain access.
	ChainRPCURL        string
	ChainID            int64
	EntryPointAddr     string
	AccountFactoryAddr string
	AccessMirrorAddr   string

	// Sponsored-transaction gateway.
	GatewayURL   string
	GatewayToken string

	// SponsorPrivateKey, when set, is the EOA key registrations execute
	// under so the sponsor wallet pays instead of the user.
	SponsorPrivateKey string

	// Content-addressable storage.
	StorageEndpoint    string
	StorageRegion      string
	StorageBucket      string
	StorageAccessKeyID string
	StorageSecretKey   string
	StorageGatewayURLs []string
	FundingServiceURL  string
	MinCreditBalance   string

	// Local state.
	KeystorePath string
	DatabaseDSN  string

	// Timings.
	HTTPTimeout         time.Duration
	ReceiptPollInterval time.Duration
	ReceiptPollAttempts int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ThresholdNetwork = "naga-dev"
	c.SessionTTLDays = 7

	c.ChainID = 84532
	c.EntryPointAddr = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

	c.StorageRegion = "auto"
	c.StorageBucket = "heaven-content"
	c.MinCreditBalance = "0.000000001"

	c.KeystorePath = defaultKeystorePath()
	c.DatabaseDSN = defaultDatabaseDSN()

	c.HTTPTimeout = 30 * time.Second
	c.ReceiptPollInterval = 2 * time.Second
	c.ReceiptPollAttempts = 15
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), command-line flags (if present), and environment
// variables. Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	parseEnv(cfg)
	return cfg
}
