package workspace

import (
	"fmt"
	"math"
	"strings"
)

// Well-known setting keys.
const (
	SettingMaxChatTurns        = "maxChatTurns"
	SettingMaxOutputTokens     = "maxOutputTokens"
	SettingTemperature         = "temperature"
	SettingTopP                = "topP"
	SettingToolPermission      = "toolPermission"
	SettingContextTopK         = "contextTopK"
	SettingContextTopN         = "contextTopN"
	SettingContextIncludeScore = "contextIncludeScore"
	SettingMostRecentModel     = "mostRecentModel"
	SettingSystemPath          = "systemPath"
)

// Tool permission modes for SettingToolPermission.
const (
	ToolPermissionAlways = "always"
	ToolPermissionNever  = "never"
	ToolPermissionTool   = "tool"
)

type settingKind int

const (
	settingInt settingKind = iota
	settingFloat
	settingEnum
	settingString
)

// SettingSpec declares one well-known setting: its type, bounds, and the
// default a fresh workspace starts with.
type SettingSpec struct {
	Key     string
	Kind    settingKind
	Min     float64
	Max     float64
	Enum    []string
	Default any
}

// settingSchema is the source of truth for workspace defaults and for
// validation on every write.
var settingSchema = []SettingSpec{
	{Key: SettingMaxChatTurns, Kind: settingInt, Min: 1, Max: 500, Default: 25},
	{Key: SettingMaxOutputTokens, Kind: settingInt, Min: 1, Max: 100000, Default: 4096},
	{Key: SettingTemperature, Kind: settingFloat, Min: 0, Max: 1, Default: 0.7},
	{Key: SettingTopP, Kind: settingFloat, Min: 0, Max: 1, Default: 1.0},
	{Key: SettingToolPermission, Kind: settingEnum, Enum: []string{ToolPermissionAlways, ToolPermissionNever, ToolPermissionTool}, Default: ToolPermissionTool},
	{Key: SettingContextTopK, Kind: settingInt, Min: 1, Max: 100, Default: 10},
	{Key: SettingContextTopN, Kind: settingInt, Min: 1, Max: 50, Default: 5},
	{Key: SettingContextIncludeScore, Kind: settingFloat, Min: 0, Max: 1, Default: 0.5},
	{Key: SettingMostRecentModel, Kind: settingString, Default: ""},
	{Key: SettingSystemPath, Kind: settingString, Default: ""},
}

// SettingSpecFor looks up the schema entry for key.
func SettingSpecFor(key string) (SettingSpec, bool) {
	for _, spec := range settingSchema {
		if spec.Key == key {
			return spec, true
		}
	}
	return SettingSpec{}, false
}

// DefaultSettings returns a fresh settings map seeded from the schema.
func DefaultSettings() map[string]any {
	out := make(map[string]any, len(settingSchema))
	for _, spec := range settingSchema {
		out[spec.Key] = spec.Default
	}
	return out
}

// ValidateSetting checks value against the schema for key and returns the
// normalized form to store. Keys outside the schema pass through untouched;
// the settings map is deliberately open.
func ValidateSetting(key string, value any) (any, error) {
	spec, known := SettingSpecFor(key)
	if !known {
		return value, nil
	}

	switch spec.Kind {
	case settingInt:
		n, ok := asNumber(value)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidSetting, key)
		}
		if n < spec.Min || n > spec.Max {
			return nil, fmt.Errorf("%w: %s must be in [%d, %d]", ErrInvalidSetting, key, int(spec.Min), int(spec.Max))
		}
		return int(n), nil

	case settingFloat:
		n, ok := asNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidSetting, key)
		}
		if n < spec.Min || n > spec.Max {
			return nil, fmt.Errorf("%w: %s must be in [%g, %g]", ErrInvalidSetting, key, spec.Min, spec.Max)
		}
		return n, nil

	case settingEnum:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidSetting, key)
		}
		for _, allowed := range spec.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidSetting, key, strings.Join(spec.Enum, ", "))

	case settingString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidSetting, key)
		}
		return s, nil
	}

	return value, nil
}

// asNumber accepts the numeric shapes a setting can arrive in: Go ints from
// callers, float64 from decoded JSON.
func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SettingInt reads a schema-typed int from a settings map, falling back to
// the schema default when absent or malformed.
func SettingInt(settings map[string]any, key string) int {
	if v, ok := settings[key]; ok {
		if n, ok := asNumber(v); ok {
			return int(n)
		}
	}
	if spec, ok := SettingSpecFor(key); ok {
		if n, ok := asNumber(spec.Default); ok {
			return int(n)
		}
	}
	return 0
}

// SettingFloat reads a schema-typed float the same way.
func SettingFloat(settings map[string]any, key string) float64 {
	if v, ok := settings[key]; ok {
		if n, ok := asNumber(v); ok {
			return n
		}
	}
	if spec, ok := SettingSpecFor(key); ok {
		if n, ok := asNumber(spec.Default); ok {
			return n
		}
	}
	return 0
}

// SettingString reads a string setting the same way.
func SettingString(settings map[string]any, key string) string {
	if v, ok := settings[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if spec, ok := SettingSpecFor(key); ok {
		if s, ok := spec.Default.(string); ok {
			return s
		}
	}
	return ""
}
