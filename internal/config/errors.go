package config

import (
	"errors"
	"fmt"
)

// ErrConfig is the kind of every configuration failure. It is fatal: a study
// with an invalid configuration never starts a stage.
var ErrConfig = errors.New("invalid configuration")

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfig, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Msg)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
