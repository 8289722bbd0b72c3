// Package config loads, validates, and normalizes the archiver's TOML
// configuration.
package config
