package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livepreview/internal/compile"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "livepreview" {
		t.Errorf("expected Name=livepreview, got %s", cfg.Name)
	}
	if cfg.Build.Scanner != "pattern" {
		t.Errorf("expected Scanner=pattern, got %s", cfg.Build.Scanner)
	}
	if !cfg.Sandbox.Chrome.Headless {
		t.Error("expected headless chrome by default")
	}
	if cfg.Sandbox.Enabled {
		t.Error("expected sandbox host disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".preview", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:9000"
	cfg.Build.Scanner = "syntax"
	cfg.Build.Externals = map[string]string{"zod": "https://esm.sh/zod@3"}
	cfg.Sandbox.Chrome.ViewportWidth = 390

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("expected Addr=127.0.0.1:9000, got %s", loaded.Server.Addr)
	}
	if loaded.Build.Scanner != "syntax" {
		t.Errorf("expected Scanner=syntax, got %s", loaded.Build.Scanner)
	}
	if loaded.Build.Externals["zod"] != "https://esm.sh/zod@3" {
		t.Errorf("externals not round-tripped: %v", loaded.Build.Externals)
	}
	if loaded.Sandbox.Chrome.ViewportWidth != 390 {
		t.Errorf("expected ViewportWidth=390, got %d", loaded.Sandbox.Chrome.ViewportWidth)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Errorf("expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("build:\n  tailwind: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Build.Tailwind {
		t.Error("expected tailwind disabled")
	}
	if cfg.Build.Target != "es2020" {
		t.Errorf("expected default target, got %s", cfg.Build.Target)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, true},
		{"bad scanner", func(c *Config) { c.Build.Scanner = "ast" }, true},
		{"bad target", func(c *Config) { c.Build.Target = "es5" }, true},
		{"bad timeout", func(c *Config) { c.Build.Timeout = "soon" }, true},
		{"history without path", func(c *Config) { c.History.Path = "" }, true},
		{"history disabled without path", func(c *Config) { c.History.Enabled = false; c.History.Path = "" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidTargetsCompile(t *testing.T) {
	for _, target := range ValidTargets {
		cfg := DefaultConfig()
		cfg.Build.Target = target
		if err := cfg.Validate(); err != nil {
			t.Errorf("target %s: Validate failed: %v", target, err)
			continue
		}
		if _, err := compile.New(compile.Options{Target: cfg.Build.Target}); err != nil {
			t.Errorf("target %s: passes Validate but compiler rejects it: %v", target, err)
		}
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetDebounce(); got != 300*time.Millisecond {
		t.Errorf("GetDebounce() = %v", got)
	}
	if got := cfg.GetBuildTimeout(); got != 60*time.Second {
		t.Errorf("GetBuildTimeout() = %v", got)
	}

	cfg.Project.Debounce = "garbage"
	cfg.Build.Timeout = "-1s"
	if got := cfg.GetDebounce(); got != 300*time.Millisecond {
		t.Errorf("GetDebounce() fallback = %v", got)
	}
	if got := cfg.GetBuildTimeout(); got != 60*time.Second {
		t.Errorf("GetBuildTimeout() fallback = %v", got)
	}
}

func TestLoggingConfig(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Categories: map[string]bool{"compile": false}}
	if lc.IsCategoryEnabled("compile") {
		t.Error("compile should be disabled")
	}
	if !lc.IsCategoryEnabled("sandbox") {
		t.Error("unlisted categories should be enabled")
	}
	opts := lc.Options()
	if opts.Level != "debug" || opts.Categories["compile"] {
		t.Errorf("unexpected options: %+v", opts)
	}
}
