// Package config provides configuration loading and validation for the Babblefish hub.
// It layers a YAML file over built-in defaults, then .env and BABBLEFISH_* environment
// overrides, and validates every section before the server starts.
package config
