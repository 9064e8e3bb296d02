// config.go - Haupt-Konfigurationsfunktionen fuer captioner
//
// Dieses Modul enthaelt:
// - Host: Gibt Host:Port fuer den HTTP-Server zurueck (CAPTION_HOST)
// - StatsDir: Gibt das Wurzelverzeichnis der Experiment-Daten zurueck (CAPTION_STATS_DIR)
// - ConfigDir: Gibt das Verzeichnis der Experiment-Konfigurationen zurueck (CAPTION_CONFIG_DIR)
// - AllowedOrigins: Gibt erlaubte CORS-Origins zurueck (CAPTION_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (CAPTION_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags und Trainings-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Host gibt Host und Port fuer den Caption-Server zurueck
// Konfigurierbar via CAPTION_HOST
// Default: 127.0.0.1:11435
func Host() string {
	defaultPort := "11435"

	s := strings.TrimSpace(Var("CAPTION_HOST"))
	if _, hostport, ok := strings.Cut(s, "://"); ok {
		s = hostport
	}
	s, _, _ = strings.Cut(s, "/")

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			host = ip.String()
		} else if s != "" {
			host = s
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return net.JoinHostPort(host, port)
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via CAPTION_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("CAPTION_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}
	return origins
}

// StatsDir gibt das Wurzelverzeichnis fuer Experiment-Daten zurueck
// Konfigurierbar via CAPTION_STATS_DIR
// Default: ./experiment_data
func StatsDir() string {
	if s := Var("CAPTION_STATS_DIR"); s != "" {
		return s
	}
	return filepath.Join(".", "experiment_data")
}

// ConfigDir gibt das Verzeichnis mit den <name>.json Dateien zurueck
// Konfigurierbar via CAPTION_CONFIG_DIR
// Default: aktuelles Verzeichnis
func ConfigDir() string {
	if s := Var("CAPTION_CONFIG_DIR"); s != "" {
		return s
	}
	return "."
}

// JournalPath gibt den Pfad der SQLite-Journal-Datei zurueck
// Leerer String wenn CAPTION_STATS_DB nicht gesetzt ist
func JournalPath() string {
	s := Var("CAPTION_STATS_DB")
	switch strings.ToLower(s) {
	case "", "0", "false":
		return ""
	case "1", "true":
		return filepath.Join(StatsDir(), "runs.db")
	}
	return s
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via CAPTION_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CAPTION_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
