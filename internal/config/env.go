package config

import "os"

// parseEnv overlays secrets and endpoints that are typically provisioned via
// the environment rather than config files.
func parseEnv(cfg *Config) {
	overlay := map[string]*string{
		"HEAVEN_GATEWAY_TOKEN":      &cfg.GatewayToken,
		"HEAVEN_SPONSOR_KEY":        &cfg.SponsorPrivateKey,
		"HEAVEN_STORAGE_ACCESS_KEY": &cfg.StorageAccessKeyID,
		"HEAVEN_STORAGE_SECRET_KEY": &cfg.StorageSecretKey,
		"HEAVEN_RPC_URL":            &cfg.ChainRPCURL,
		"HEAVEN_RELAY_URL":          &cfg.ThresholdRelayURL,
	}
	for name, dst := range overlay {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
}
