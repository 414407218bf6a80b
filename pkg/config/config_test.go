package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.Kernel.CycleMillis != 1000 {
		t.Errorf("CycleMillis = %d, want 1000", cfg.Kernel.CycleMillis)
	}
	if cfg.Database.Driver != "memdb" {
		t.Errorf("Database.Driver = %q, want memdb", cfg.Database.Driver)
	}
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("kernel:\n  cycle_millis: 5000\n  queue_threshold: 25\nserver:\n  port: 9090\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Kernel.CycleMillis != 5000 {
		t.Errorf("CycleMillis = %d, want 5000", cfg.Kernel.CycleMillis)
	}
	if cfg.Kernel.QueueThreshold != 25 {
		t.Errorf("QueueThreshold = %d, want 25", cfg.Kernel.QueueThreshold)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	// Untouched defaults survive the partial override.
	if cfg.Kernel.AllocationHorizon != 6 {
		t.Errorf("AllocationHorizon = %d, want 6", cfg.Kernel.AllocationHorizon)
	}
}

func TestLoadFile_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Kernel.CycleMillis != 1000 {
		t.Errorf("CycleMillis = %d, want default 1000", cfg.Kernel.CycleMillis)
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "fedres", Password: "pw", Name: "fedres", SSLMode: "disable"}
	want := "host=db port=5432 user=fedres password=pw dbname=fedres sslmode=disable"
	if got := c.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
