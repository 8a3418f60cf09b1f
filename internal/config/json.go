package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dotheaven/heaven-core/internal/flagx"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals are
// given in seconds; after parsing, values are copied into the runtime Config.
type JsonConfig struct {
	ThresholdNetwork  *string `json:"threshold_network"`
	ThresholdRelayURL *string `json:"threshold_relay_url"`
	SessionTTLDays    *int    `json:"session_ttl_days"`

	ChainRPCURL        *string `json:"chain_rpc_url"`
	ChainID            *int64  `json:"chain_id"`
	EntryPointAddr     *string `json:"entry_point_addr"`
	AccountFactoryAddr *string `json:"account_factory_addr"`
	AccessMirrorAddr   *string `json:"access_mirror_addr"`

	GatewayURL *string `json:"gateway_url"`

	StorageEndpoint    *string  `json:"storage_endpoint"`
	StorageRegion      *string  `json:"storage_region"`
	StorageBucket      *string  `json:"storage_bucket"`
	StorageGatewayURLs []string `json:"storage_gateway_urls"`
	FundingServiceURL  *string  `json:"funding_service_url"`
	MinCreditBalance   *string  `json:"min_credit_balance"`

	KeystorePath *string `json:"keystore_path"`
	DatabaseDSN  *string `json:"database_dsn"`

	HTTPTimeoutSec         *int `json:"http_timeout_sec"`
	ReceiptPollIntervalSec *int `json:"receipt_poll_interval_sec"`
	ReceiptPollAttempts    *int `json:"receipt_poll_attempts"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags; when absent nothing is loaded.
// Panics on read or unmarshal errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ThresholdNetwork, jc.ThresholdNetwork)
	setString(&cfg.ThresholdRelayURL, jc.ThresholdRelayURL)
	setInt(&cfg.SessionTTLDays, jc.SessionTTLDays)

	setString(&cfg.ChainRPCURL, jc.ChainRPCURL)
	if jc.ChainID != nil {
		cfg.ChainID = *jc.ChainID
	}
	setString(&cfg.EntryPointAddr, jc.EntryPointAddr)
	setString(&cfg.AccountFactoryAddr, jc.AccountFactoryAddr)
	setString(&cfg.AccessMirrorAddr, jc.AccessMirrorAddr)

	setString(&cfg.GatewayURL, jc.GatewayURL)

	setString(&cfg.StorageEndpoint, jc.StorageEndpoint)
	setString(&cfg.StorageRegion, jc.StorageRegion)
	setString(&cfg.StorageBucket, jc.StorageBucket)
	if len(jc.StorageGatewayURLs) > 0 {
		cfg.StorageGatewayURLs = jc.StorageGatewayURLs
	}
	setString(&cfg.FundingServiceURL, jc.FundingServiceURL)
	setString(&cfg.MinCreditBalance, jc.MinCreditBalance)

	setString(&cfg.KeystorePath, jc.KeystorePath)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)

	setDurationSec(&cfg.HTTPTimeout, jc.HTTPTimeoutSec)
	setDurationSec(&cfg.ReceiptPollInterval, jc.ReceiptPollIntervalSec)
	setInt(&cfg.ReceiptPollAttempts, jc.ReceiptPollAttempts)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDurationSec(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second
	}
}
