// Package feeders reads configuration into structs from YAML, TOML and JSON
// files and from environment variables. Each feeder can fill a whole struct
// with Feed or a single top-level section with FeedKey.
package feeders

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feeder fills a struct from one configuration source.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder can also fill a struct from one named section of its source.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// YamlFeeder reads YAML files.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder for filePath.
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (y YamlFeeder) Feed(target any) error {
	data, err := readFile("yaml", y.Path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return wrapDecodeError("yaml", y.Path, err)
	}
	return nil
}

// FeedKey decodes the top-level key into target. A missing key leaves
// target untouched.
func (y YamlFeeder) FeedKey(key string, target any) error {
	var allData map[string]any
	if err := y.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}

func readFile(format, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, wrapReadError(format, path, err)
	}
	return data, nil
}
