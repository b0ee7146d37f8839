// Package config handles configuration loading for the resale inbox client.
//
// # Configuration File
//
// The file path comes from the INBOX_CONFIG environment variable, falling
// back to $XDG_CONFIG_HOME/resale-inbox/config.yaml. Files ending in .toml
// are decoded as TOML; anything else is YAML. A .env file next to the
// configuration is loaded first (existing variables win).
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  anon_key: "${SUPABASE_ANON_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	inbox:
//	  poll_interval: "30s"
//
// # Drivers
//
//   - backend.driver: supabase (default) or sqlite
//   - realtime.driver: supabase, redis, local (sqlite only), or none
//
// Anything left empty gets a default; see Default for the local setup.
package config
