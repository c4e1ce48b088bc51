package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is consulted when FACEGATE_CONFIG is not set.
// A missing file is not an error; environment variables and built-in
// defaults are enough to run.
const DefaultConfigFile = "/etc/facegate/config.yaml"

type Config struct {
	Auth      AuthConfig
	Camera    CameraConfig
	Embedding EmbeddingConfig
	Store     StoreConfig
	Web       WebConfig
}

type AuthConfig struct {
	Threshold      float64       // maximum cosine distance to accept a live capture
	MaxAttempts    int           // capture-and-decide cycles per login attempt
	AttemptTimeout time.Duration // hard wall-clock bound per cycle
}

type CameraConfig struct {
	Device         string // e.g. /dev/video0
	CaptureCommand string // grabber command template, {device} is substituted; split on whitespace, no shell quoting
	LockDir        string // directory for the exclusive device lock file
	MaxFrameSize   int    // frames are downscaled to fit this bound before extraction
}

type EmbeddingConfig struct {
	URL         string  // face embedding sidecar, e.g. http://localhost:8000
	Model       string  // model version tag stamped on templates and live embeddings
	Dim         int     // expected embedding dimensionality
	MinDetScore float64 // minimum detection score for an enrollment capture
}

type StoreConfig struct {
	TemplateDir string // one template file per user lives here
}

type WebConfig struct {
	Host string
	Port int
}

// fileConfig mirrors Config for the optional YAML file. Environment
// variables override anything set here.
type fileConfig struct {
	Threshold      *float64 `yaml:"threshold"`
	MaxAttempts    *int     `yaml:"max_attempts"`
	AttemptTimeout string   `yaml:"attempt_timeout"`
	Device         string   `yaml:"device"`
	CaptureCommand string   `yaml:"capture_command"`
	LockDir        string   `yaml:"lock_dir"`
	MaxFrameSize   *int     `yaml:"max_frame_size"`
	EmbeddingURL   string   `yaml:"embedding_url"`
	Model          string   `yaml:"model"`
	EmbeddingDim   *int     `yaml:"embedding_dim"`
	MinDetScore    *float64 `yaml:"min_det_score"`
	TemplateDir    string   `yaml:"template_dir"`
	WebHost        string   `yaml:"web_host"`
	WebPort        *int     `yaml:"web_port"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a positive duration ("4s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envStr reads an environment variable with a fallback.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration once: built-in defaults, then the optional
// YAML file, then FACEGATE_* environment variables on top. The result is
// treated as immutable for the lifetime of the process.
func Load() (*Config, error) {
	cfg := &Config{
		Auth: AuthConfig{
			Threshold:      0.35,
			MaxAttempts:    3,
			AttemptTimeout: 4 * time.Second,
		},
		Camera: CameraConfig{
			Device:         "/dev/video0",
			CaptureCommand: "ffmpeg -loglevel error -f v4l2 -i {device} -frames:v 1 -f image2pipe -vcodec mjpeg -",
			LockDir:        "/run/lock",
			MaxFrameSize:   640,
		},
		Embedding: EmbeddingConfig{
			URL:         "http://localhost:8000",
			Model:       "buffalo_l",
			Dim:         512,
			MinDetScore: 0.5,
		},
		Store: StoreConfig{
			TemplateDir: "/var/lib/facegate/templates",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8471,
		},
	}

	if err := applyFile(cfg, envStr("FACEGATE_CONFIG", DefaultConfigFile)); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Threshold != nil {
		cfg.Auth.Threshold = *fc.Threshold
	}
	if fc.MaxAttempts != nil {
		cfg.Auth.MaxAttempts = *fc.MaxAttempts
	}
	if fc.AttemptTimeout != "" {
		d, err := time.ParseDuration(fc.AttemptTimeout)
		if err != nil {
			return fmt.Errorf("parsing attempt_timeout: %w", err)
		}
		cfg.Auth.AttemptTimeout = d
	}
	if fc.Device != "" {
		cfg.Camera.Device = fc.Device
	}
	if fc.CaptureCommand != "" {
		cfg.Camera.CaptureCommand = fc.CaptureCommand
	}
	if fc.LockDir != "" {
		cfg.Camera.LockDir = fc.LockDir
	}
	if fc.MaxFrameSize != nil {
		cfg.Camera.MaxFrameSize = *fc.MaxFrameSize
	}
	if fc.EmbeddingURL != "" {
		cfg.Embedding.URL = fc.EmbeddingURL
	}
	if fc.Model != "" {
		cfg.Embedding.Model = fc.Model
	}
	if fc.EmbeddingDim != nil {
		cfg.Embedding.Dim = *fc.EmbeddingDim
	}
	if fc.MinDetScore != nil {
		cfg.Embedding.MinDetScore = *fc.MinDetScore
	}
	if fc.TemplateDir != "" {
		cfg.Store.TemplateDir = fc.TemplateDir
	}
	if fc.WebHost != "" {
		cfg.Web.Host = fc.WebHost
	}
	if fc.WebPort != nil {
		cfg.Web.Port = *fc.WebPort
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Auth.Threshold = envFloat("FACEGATE_THRESHOLD", cfg.Auth.Threshold)
	cfg.Auth.MaxAttempts = envInt("FACEGATE_MAX_ATTEMPTS", cfg.Auth.MaxAttempts)
	cfg.Auth.AttemptTimeout = envDuration("FACEGATE_ATTEMPT_TIMEOUT", cfg.Auth.AttemptTimeout)

	cfg.Camera.Device = envStr("FACEGATE_CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.CaptureCommand = envStr("FACEGATE_CAPTURE_CMD", cfg.Camera.CaptureCommand)
	cfg.Camera.LockDir = envStr("FACEGATE_LOCK_DIR", cfg.Camera.LockDir)
	cfg.Camera.MaxFrameSize = envInt("FACEGATE_MAX_FRAME_SIZE", cfg.Camera.MaxFrameSize)

	cfg.Embedding.URL = envStr("FACEGATE_EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Model = envStr("FACEGATE_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dim = envInt("FACEGATE_EMBEDDING_DIM", cfg.Embedding.Dim)
	cfg.Embedding.MinDetScore = envFloat("FACEGATE_MIN_DET_SCORE", cfg.Embedding.MinDetScore)

	cfg.Store.TemplateDir = envStr("FACEGATE_TEMPLATE_DIR", cfg.Store.TemplateDir)

	cfg.Web.Host = envStr("FACEGATE_WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("FACEGATE_WEB_PORT", cfg.Web.Port)
}

// Validate rejects configurations that would make the adapter misbehave
// rather than merely match badly.
func (c *Config) Validate() error {
	if c.Auth.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	if c.Auth.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.Auth.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	if c.Embedding.Model == "" {
		return errors.New("embedding model tag must not be empty")
	}
	if c.Embedding.Dim < 1 {
		return errors.New("embedding dimension must be at least 1")
	}
	if c.Store.TemplateDir == "" {
		return errors.New("template directory must not be empty")
	}
	return nil
}
