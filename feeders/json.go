package feeders

import (
	"fmt"

	"github.com/goccy/go-json"
)

// JSONFeeder reads JSON files.
type JSONFeeder struct {
	Path string
}

func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

func (j JSONFeeder) Feed(target any) error {
	data, err := readFile("json", j.Path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return wrapDecodeError("json", j.Path, err)
	}
	return nil
}

func (j JSONFeeder) FeedKey(key string, target any) error {
	var allData map[string]json.RawMessage
	if err := j.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read json: %w", err)
	}

	raw, exists := allData[key]
	if !exists {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
