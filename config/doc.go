// Package config loads relay settings from YAML files, .env files, and the
// process environment into raw layers for core.CfgxConfigProvider.
package config
