package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates a required configuration file is missing.
	ErrConfigNotFound = errors.New("configuration file not found")
	// ErrInvalidYAML indicates a configuration file failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML")
	// ErrNotRegistered indicates a lookup for an unknown registry entry.
	ErrNotRegistered = errors.New("not registered")
)

// LoadError wraps a failure to load one configuration file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError constructs a LoadError.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
