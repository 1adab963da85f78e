package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
container_dir = "Paks"
output_dir = "/tmp/out"
encryption_keys = "keys.json"
workers = 3
write_manifest = false

[log]
level = "debug"
format = "json"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := filepath.Dir(path)
	if c.ContainerDir != filepath.Join(dir, "Paks") {
		t.Fatalf("ContainerDir = %q, want %q", c.ContainerDir, filepath.Join(dir, "Paks"))
	}
	if c.OutputDir != "/tmp/out" {
		t.Fatalf("OutputDir = %q, want /tmp/out", c.OutputDir)
	}
	if c.EncryptionKeys != filepath.Join(dir, "keys.json") {
		t.Fatalf("EncryptionKeys = %q", c.EncryptionKeys)
	}
	if c.Workers != 3 {
		t.Fatalf("Workers = %d, want 3", c.Workers)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Fatalf("Log = %+v, want debug/json", c.Log)
	}
	if *c.WriteManifest {
		t.Fatalf("WriteManifest = true, want explicit false kept")
	}
	if !*c.WriteScriptObjects {
		t.Fatalf("WriteScriptObjects = false, want default true")
	}
}

func TestDefaults(t *testing.T) {
	c, err := LoadOptional(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if c.Workers != runtime.NumCPU() {
		t.Fatalf("Workers = %d, want %d", c.Workers, runtime.NumCPU())
	}
	if c.Log.Level != "info" || c.Log.Format != "text" {
		t.Fatalf("Log = %+v, want info/text", c.Log)
	}
	if !*c.WriteScriptObjects || !*c.WriteManifest {
		t.Fatalf("write flags = %v/%v, want true/true", *c.WriteScriptObjects, *c.WriteManifest)
	}
	if c.Dir != "" {
		t.Fatalf("Dir = %q, want empty", c.Dir)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "workers = [", "parse error"},
		{"unknown key", "wokers = 2", "unknown keys wokers"},
		{"negative workers", "workers = -1", "workers must be positive"},
		{"bad level", "[log]\nlevel = \"loud\"", "log level"},
		{"bad format", "[log]\nformat = \"xml\"", "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("ParseLevel(warn) = (%v, %v), want WARN", level, err)
	}
}
