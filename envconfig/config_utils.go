// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CAPTION_DEBUG":            {"CAPTION_DEBUG", LogLevel(), "Show additional debug information (e.g. CAPTION_DEBUG=1)"},
		"CAPTION_HOST":             {"CAPTION_HOST", Host(), "Address for the caption server (default 127.0.0.1:11435)"},
		"CAPTION_ORIGINS":          {"CAPTION_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"CAPTION_STATS_DIR":        {"CAPTION_STATS_DIR", StatsDir(), "Root directory for experiment statistics and checkpoints"},
		"CAPTION_CONFIG_DIR":       {"CAPTION_CONFIG_DIR", ConfigDir(), "Directory containing <experiment>.json files"},
		"CAPTION_STATS_DB":         {"CAPTION_STATS_DB", JournalPath(), "SQLite run journal (1 for <stats dir>/runs.db or a path)"},
		"CAPTION_SEED":             {"CAPTION_SEED", Seed(), "Override the experiment seed"},
		"CAPTION_CHECKPOINT_DTYPE": {"CAPTION_CHECKPOINT_DTYPE", CheckpointDType(), "Tensor type for checkpoints (F64, F32 or F16)"},
		"CAPTION_NOPROGRESS":       {"CAPTION_NOPROGRESS", NoProgress(), "Do not draw progress bars"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
