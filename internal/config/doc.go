// Package config provides centralized configuration management for the
// SmartBI runtime. Settings are read from JSON or YAML files, optionally
// seeded from a .env file, and overridden by SMARTBI_* environment variables.
package config
