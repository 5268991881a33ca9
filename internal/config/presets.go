package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named bundle of prompt option defaults merged at admission
// before fingerprinting, so preset expansion participates in deduplication.
type Preset struct {
	Style   string         `yaml:"style"`
	Options map[string]any `yaml:"options"`
}

type presetsFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadPresets reads the optional style preset file. A missing path returns
// an empty map rather than an error so presets stay opt-in.
func LoadPresets(path string) (map[string]Preset, error) {
	if path == "" {
		return map[string]Preset{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Preset{}, nil
		}
		return nil, fmt.Errorf("op=config.LoadPresets: %w", err)
	}
	var pf presetsFile
	if err := yaml.Unmarshal(content, &pf); err != nil {
		return nil, fmt.Errorf("op=config.LoadPresets: %w", err)
	}
	if pf.Presets == nil {
		pf.Presets = map[string]Preset{}
	}
	return pf.Presets, nil
}
