// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which keeps database passwords out of the checked-in file. See configs/relay.example.yaml.
package config
