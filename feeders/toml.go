package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads TOML files.
type TomlFeeder struct {
	Path string
}

func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

func (t TomlFeeder) Feed(target any) error {
	data, err := readFile("toml", t.Path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, target); err != nil {
		return wrapDecodeError("toml", t.Path, err)
	}
	return nil
}

// FeedKey reads a TOML file and extracts a specific table.
func (t TomlFeeder) FeedKey(key string, target any) error {
	var allData map[string]any
	if err := t.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read toml: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	valueBytes, err := toml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err = toml.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
