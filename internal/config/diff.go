package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Fields that can be hot-reloaded are reported individually; everything
// else is summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool

	// ScriptFilesChanged is true when scripts.files differs in content or
	// order. AddedFiles and RemovedFiles list the set difference.
	ScriptFilesChanged bool
	AddedFiles         []string
	RemovedFiles       []string

	// RestartRequired names the changed top-level keys that only take effect
	// after a restart (e.g., "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.ScriptFilesChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Verification != new.Verification {
		d.ThresholdsChanged = true
	}

	if !slices.Equal(old.Scripts.Files, new.Scripts.Files) {
		d.ScriptFilesChanged = true
		for _, f := range new.Scripts.Files {
			if !slices.Contains(old.Scripts.Files, f) {
				d.AddedFiles = append(d.AddedFiles, f)
			}
		}
		for _, f := range old.Scripts.Files {
			if !slices.Contains(new.Scripts.Files, f) {
				d.RemovedFiles = append(d.RemovedFiles, f)
			}
		}
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart := []struct {
		key      string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"scripts.postgres_dsn", old.Scripts.PostgresDSN, new.Scripts.PostgresDSN},
		{"session", old.Session, new.Session},
		{"resilience", old.Resilience, new.Resilience},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.key)
		}
	}

	return d
}
