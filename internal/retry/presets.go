package retry

import (
	"sort"
	"time"
)

// Preset names.
const (
	PresetDefault        = "default"
	PresetNetwork        = "network"
	PresetRateLimit      = "rateLimit"
	PresetAuthentication = "authentication"
	PresetSMTP           = "smtp"
)

var presets = map[string]Config{
	PresetDefault:        {MaxRetries: 3, BaseDelay: 1000 * time.Millisecond},
	PresetNetwork:        {MaxRetries: 5, BaseDelay: 2000 * time.Millisecond},
	PresetRateLimit:      {MaxRetries: 2, BaseDelay: 5000 * time.Millisecond, MaxDelay: 60000 * time.Millisecond},
	PresetAuthentication: {MaxRetries: 1, BaseDelay: 1000 * time.Millisecond},
	PresetSMTP:           {MaxRetries: 4, BaseDelay: 1500 * time.Millisecond},
}

// Preset returns a named policy with defaults filled in. Callers override
// fields on the returned value.
func Preset(name string) (Config, bool) {
	c, ok := presets[name]
	if !ok {
		return Config{}, false
	}
	return c.withDefaults(), true
}

// Presets returns every named policy.
func Presets() map[string]Config {
	out := make(map[string]Config, len(presets))
	for name, c := range presets {
		out[name] = c.withDefaults()
	}
	return out
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge overlays the non-zero fields of override onto base.
func Merge(base, override Config) Config {
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay > 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		base.MaxDelay = override.MaxDelay
	}
	if override.Multiplier > 0 {
		base.Multiplier = override.Multiplier
	}
	if override.JitterFactor != 0 {
		base.JitterFactor = override.JitterFactor
	}
	if override.CategoryMultipliers != nil {
		m := DefaultCategoryMultipliers()
		for k, v := range base.CategoryMultipliers {
			m[k] = v
		}
		for k, v := range override.CategoryMultipliers {
			m[k] = v
		}
		base.CategoryMultipliers = m
	}
	return base.withDefaults()
}
