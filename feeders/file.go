package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ForFile picks the feeder matching the file extension.
func ForFile(path string) (KeyFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
