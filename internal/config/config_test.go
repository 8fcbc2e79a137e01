package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var boardEnv = []string{
	"BOARD_CONFIG", "BOARD_ADDR", "BOARD_STORE", "BOARD_FILE", "BOARD_NAME", "BOARD_REPO_DIR",
	"BOARD_GIT_BRANCH", "GITHUB_REMOTE_URL", "GITHUB_TOKEN", "DATABASE_URL", "BOARD_MIGRATIONS_DIR",
	"REDIS_URL", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_USE_SSL",
	"MEILI_URL", "MEILI_MASTER_KEY", "BOARD_CORS_ORIGIN", "ENABLE_CONFLICT_CHECK",
	"BOARD_DEFAULT_USER", "BOARD_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range boardEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":3001" || cfg.Store != StoreFile || cfg.BoardFile != "./sdlc-workflow.json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConflictCheck {
		t.Fatal("conflict check should be off by default")
	}
	if cfg.DefaultUser != "anonymous@team.com" {
		t.Fatalf("unexpected default user %q", cfg.DefaultUser)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "board.yaml")
	yamlConfig := strings.Join([]string{
		"addr: \":9000\"",
		"store: git",
		"repoDir: /srv/board",
		"gitBranch: boards",
		"conflictCheck: true",
		"s3:",
		"  endpoint: minio:9000",
		"  bucket: boards",
	}, "\n")
	if err := os.WriteFile(path, []byte(yamlConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOARD_CONFIG", path)
	t.Setenv("BOARD_ADDR", ":9100")
	t.Setenv("ENABLE_CONFLICT_CHECK", "false")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should override file addr, got %q", cfg.Addr)
	}
	if cfg.Store != StoreGit || cfg.RepoDir != "/srv/board" || cfg.GitBranch != "boards" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ConflictCheck {
		t.Fatal("ENABLE_CONFLICT_CHECK=false should win over the file")
	}
	if cfg.S3.Endpoint != "minio:9000" || !cfg.S3.UseSSL {
		t.Fatalf("unexpected s3 config: %+v", cfg.S3)
	}
}

func TestLoadRejectsIncompleteStore(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"BOARD_STORE": "dropbox"}},
		{name: "postgres without url", env: map[string]string{"BOARD_STORE": "postgres"}},
		{name: "redis without url", env: map[string]string{"BOARD_STORE": "redis"}},
		{name: "s3 without bucket", env: map[string]string{"BOARD_STORE": "s3", "S3_ENDPOINT": "minio:9000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
