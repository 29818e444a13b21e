// Package config loads and validates the syncd YAML configuration.
//
// Configuration is supplied once at construction time; there is no runtime
// reconfiguration. ${VAR} references in the YAML are expanded from the
// environment before parsing.
package config
