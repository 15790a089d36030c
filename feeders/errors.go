package feeders

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound      = errors.New("config file not found")
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// Env feeder errors
var (
	ErrEnvInvalidStructure     = errors.New("env: invalid structure")
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
	ErrEnvFieldCannotBeSet     = errors.New("env: field cannot be set")
)

func wrapReadError(format, path string, err error) error {
	return fmt.Errorf("failed to read %s file %s: %w", format, path, err)
}

func wrapDecodeError(format, path string, err error) error {
	return fmt.Errorf("failed to decode %s file %s: %w", format, path, err)
}
