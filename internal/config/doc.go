// Package config provides configuration loading and validation for the voice
// chat gateway. It handles YAML-based configuration with struct validation,
// optional .env loading, and environment-supplied credentials.
package config
