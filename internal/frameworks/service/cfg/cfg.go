// Package cfg decodes the free-form TOML tables handed to services and
// drivers into typed config structs.
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill in their own defaults.
// It runs after decoding, so it only sees zero values for absent keys.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes input into the struct pointed to by c.
//
// Durations may be written as strings ("5s") and string lists as a
// comma-separated string, so env-sourced tables decode like TOML ones.
func Decode(input map[string]any, c any) error {
	return decode(input, c, nil)
}

// DecodeWithUnused is Decode that also returns the keys of input that
// matched no field, sorted. Callers log them.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	if err := decode(input, c, &md); err != nil {
		return nil, err
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}

// MustDecodeStrict fails on any unused key. Tests use it to catch dead
// config.
func MustDecodeStrict(input map[string]any, c any) error {
	unused, err := DecodeWithUnused(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unused config keys: %v", unused)
	}
	return nil
}

func decode(input map[string]any, c any, md *mapstructure.Metadata) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: md,
		Result:   c,
		TagName:  "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	return nil
}
