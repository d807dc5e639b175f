// Package asset loads externally authored animation clips, one loader per rig.
package asset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexmotion/internal/preset"
)

// Manifest is the static preset-to-asset table.
//
//	root: ./clips
//	assets:
//	  idle: idle.glb
//	  wave: https://cdn.example.com/wave.glb
//	fallbacks:
//	  celebrate: wave
type Manifest struct {
	Root      string            `yaml:"root"`
	Assets    map[string]string `yaml:"assets"`
	Fallbacks map[string]string `yaml:"fallbacks"`
}

// LoadManifest reads a YAML manifest. A relative root is taken relative to the
// manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if m.Root == "" {
		m.Root = filepath.Dir(path)
	} else if !filepath.IsAbs(m.Root) && !isURL(m.Root) {
		m.Root = filepath.Join(filepath.Dir(path), m.Root)
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects entries keyed by names outside the preset registry.
func (m *Manifest) Validate() error {
	for name, loc := range m.Assets {
		if !preset.Valid(name) {
			return fmt.Errorf("manifest asset %q: %w", name, preset.ErrInvalidPreset)
		}
		if loc == "" {
			return fmt.Errorf("manifest asset %q has empty path", name)
		}
	}
	for from, to := range m.Fallbacks {
		if !preset.Valid(from) {
			return fmt.Errorf("manifest fallback %q: %w", from, preset.ErrInvalidPreset)
		}
		if !preset.Valid(to) {
			return fmt.Errorf("manifest fallback %q -> %q: %w", from, to, preset.ErrInvalidPreset)
		}
	}
	return nil
}

// HasAsset reports whether name has an authored asset.
func (m *Manifest) HasAsset(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Assets[name]
	return ok
}

// Resolve maps a requested preset to one with an authored asset by following
// the fallback chain. Chains that dead-end or cycle resolve to idle.
func (m *Manifest) Resolve(requested string) string {
	if m == nil {
		return preset.Idle
	}
	seen := make(map[string]bool)
	cur := requested
	for !seen[cur] {
		if m.HasAsset(cur) {
			return cur
		}
		seen[cur] = true
		next, ok := m.Fallbacks[cur]
		if !ok {
			break
		}
		cur = next
	}
	return preset.Idle
}

// Location returns the fetchable path or URL of name's asset.
func (m *Manifest) Location(name string) (string, bool) {
	loc, ok := m.Assets[name]
	if !ok {
		return "", false
	}
	if isURL(loc) || filepath.IsAbs(loc) || m.Root == "" {
		return loc, true
	}
	if isURL(m.Root) {
		return strings.TrimRight(m.Root, "/") + "/" + strings.TrimLeft(loc, "/"), true
	}
	return filepath.Join(m.Root, loc), true
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
