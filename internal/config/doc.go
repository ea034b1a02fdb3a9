// Package config loads and validates the cardauth configuration.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones
// overriding earlier ones:
//
//	1. Default values
//	2. A YAML file (--config, ./cardauth.yaml, ./configs/cardauth.yaml or
//	   <user config dir>/cardauth/config.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern CARDAUTH_<SECTION>_<FIELD>:
//
//	CARDAUTH_CARD_APP_KEY=...
//	CARDAUTH_CARD_APP_SECRET=...
//	CARDAUTH_CARD_HEARTBEAT_INTERVAL=60s
//	CARDAUTH_STORAGE_DRIVER=sqlite
//	CARDAUTH_LOGGING_LEVEL=debug
//	CARDAUTH_LOCALE=zh
//
// # Credentials
//
// Empty or placeholder card credentials do not fail Load. CardConfig.Status
// reports them, and the application runs with the card API disabled.
//
// # Paths
//
// GetPaths resolves the storage and log locations:
//
//	paths, err := config.GetPaths(cfg)
//	store := paths.StorePath(cfg.Storage.Driver)
package config
