// Package config defines settings used by the recovery-zip commands and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the files directory, log level, entry failure policy
// and the external signer command.
package config
