package config

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the configuration file does not exist.
var ErrNotFound = errors.New("no such file or directory")

// KeyError reports a required key missing from the configuration.
type KeyError struct {
	Host string // empty for top-level keys
	Key  string
}

func (e *KeyError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("no %s defined", e.Key)
	}
	return fmt.Sprintf("no %s defined for %s", e.Key, e.Host)
}

// ValidationError reports a present but unusable configuration value.
type ValidationError struct {
	Host   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Host, e.Field, e.Reason)
}
