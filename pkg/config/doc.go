// Package config loads process configuration from environment variables into
// tagged structs.
//
// Parsing is delegated to github.com/caarlos0/env/v11 and .env files are read
// with github.com/joho/godotenv. Every configuration type is parsed once per
// process and cached by type, so packages can call Load for their own config
// struct without coordinating with each other:
//
//	var cfg billing.Config
//	config.MustLoad(&cfg)
//
// LoadEnv reads explicit .env files (for example a per-environment file passed
// on the command line) before the first Load. Values already present in the
// environment are never overwritten.
//
// Tests that change the environment should call ResetCache so the next Load
// sees the new values.
package config
