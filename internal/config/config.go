package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends selectable with BOARD_STORE.
const (
	StoreFile     = "file"
	StoreGit      = "git"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
)

type Config struct {
	Addr          string `yaml:"addr"`
	Store         string `yaml:"store"`
	BoardFile     string `yaml:"boardFile"`
	BoardName     string `yaml:"boardName"`
	RepoDir       string `yaml:"repoDir"`
	GitBranch     string `yaml:"gitBranch"`
	RemoteURL     string `yaml:"remoteURL"`
	GitHubToken   string `yaml:"githubToken"`
	DatabaseURL   string `yaml:"databaseURL"`
	MigrationsDir string `yaml:"migrationsDir"`
	RedisURL      string `yaml:"redisURL"`
	S3            S3     `yaml:"s3"`
	MeiliURL      string `yaml:"meiliURL"`
	MeiliKey      string `yaml:"meiliMasterKey"`
	ChromePath    string `yaml:"chromePath"`
	CORSOrigin    string `yaml:"corsOrigin"`
	// ConflictCheck rejects saves based on a stale copy of the board.
	ConflictCheck bool   `yaml:"conflictCheck"`
	DefaultUser   string `yaml:"defaultUser"`
	LogLevel      string `yaml:"logLevel"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

func defaults() Config {
	return Config{
		Addr:        ":3001",
		Store:       StoreFile,
		BoardFile:   "./sdlc-workflow.json",
		BoardName:   "sdlc-workflow",
		RepoDir:     "./data/board-repo",
		GitBranch:   "main",
		CORSOrigin:  "*",
		DefaultUser: "anonymous@team.com",
		LogLevel:    "info",
	}
}

// Load reads the YAML file named by BOARD_CONFIG, if any, and applies
// environment overrides on top.
func Load() (Config, error) {
	return LoadFile(os.Getenv("BOARD_CONFIG"))
}

// LoadFile is Load with an explicit config file; an empty path skips the
// file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getenv("BOARD_ADDR", cfg.Addr)
	cfg.Store = strings.ToLower(getenv("BOARD_STORE", cfg.Store))
	cfg.BoardFile = getenv("BOARD_FILE", cfg.BoardFile)
	cfg.BoardName = getenv("BOARD_NAME", cfg.BoardName)
	cfg.RepoDir = getenv("BOARD_REPO_DIR", cfg.RepoDir)
	cfg.GitBranch = getenv("BOARD_GIT_BRANCH", cfg.GitBranch)
	cfg.RemoteURL = getenv("GITHUB_REMOTE_URL", cfg.RemoteURL)
	cfg.GitHubToken = getenv("GITHUB_TOKEN", cfg.GitHubToken)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("BOARD_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.S3.Endpoint = getenv("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = getenv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getenv("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Bucket = getenv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.UseSSL = getenvBool("S3_USE_SSL", cfg.S3.UseSSL)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliKey = getenv("MEILI_MASTER_KEY", cfg.MeiliKey)
	cfg.ChromePath = getenv("CHROME_PATH", cfg.ChromePath)
	cfg.CORSOrigin = getenv("BOARD_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.ConflictCheck = getenvBool("ENABLE_CONFLICT_CHECK", cfg.ConflictCheck)
	cfg.DefaultUser = getenv("BOARD_DEFAULT_USER", cfg.DefaultUser)
	cfg.LogLevel = strings.ToLower(getenv("BOARD_LOG_LEVEL", cfg.LogLevel))
}

// Validate checks that the selected store has what it needs to connect.
func (c Config) Validate() error {
	switch c.Store {
	case StoreFile:
		if strings.TrimSpace(c.BoardFile) == "" {
			return fmt.Errorf("config: file store needs BOARD_FILE")
		}
	case StoreGit:
		if strings.TrimSpace(c.RepoDir) == "" {
			return fmt.Errorf("config: git store needs BOARD_REPO_DIR")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: postgres store needs DATABASE_URL")
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("config: redis store needs REDIS_URL")
		}
	case StoreS3:
		if strings.TrimSpace(c.S3.Endpoint) == "" || strings.TrimSpace(c.S3.Bucket) == "" {
			return fmt.Errorf("config: s3 store needs S3_ENDPOINT and S3_BUCKET")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// getenvBool parses key with strconv.ParseBool; unset or malformed values
// keep fallback.
func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
