// Package profile holds the process configuration.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the daemon.
type Profile struct {
	// Embedding configuration (any OpenAI-compatible provider)
	AIEmbeddingAPIKey     string
	AIEmbeddingBaseURL    string
	AIEmbeddingModel      string
	AIEmbeddingDimensions int
	AIEmbeddingRPS        float64 // request rate limit, requests per second

	// Scheduler configuration
	CheckInterval int    // seconds between scheduler ticks
	MainInterval  int    // seconds between decision cycle runs
	NightStart    string // "HH:MM", start of the nightly suppression window
	NightEnd      string // "HH:MM", end of the nightly suppression window
	NightMode     bool

	// Goals configuration file (YAML or JSON), optional.
	GoalsFile string

	MetricsPort int // 0 disables the metrics endpoint

	Mode    string
	Data    string
	Driver  string
	DSN     string
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding API key is configured.
// Without it the memory index degrades to storing records without vectors.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.AIEmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AIEmbeddingAPIKey = getEnvOrDefault("VOLITION_AI_EMBEDDING_API_KEY", "")
	p.AIEmbeddingBaseURL = getEnvOrDefault("VOLITION_AI_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIEmbeddingModel = getEnvOrDefault("VOLITION_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingDimensions = getEnvOrDefaultInt("VOLITION_AI_EMBEDDING_DIMENSIONS", 1024)
	if rps, err := strconv.ParseFloat(getEnvOrDefault("VOLITION_AI_EMBEDDING_RPS", "2"), 64); err == nil {
		p.AIEmbeddingRPS = rps
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.CheckInterval <= 0 {
		p.CheckInterval = 60
	}
	if p.MainInterval <= 0 {
		p.MainInterval = 3600
	}
	if p.NightStart == "" {
		p.NightStart = "22:00"
	}
	if p.NightEnd == "" {
		p.NightEnd = "08:00"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/volition"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("volition_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
