package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.json"

// Config структура конфига
type Config struct {
	Host      string `yaml:"host" env:"AGENT_HOST" envDefault:"0.0.0.0"`
	Port      int    `yaml:"port" env:"AGENT_PORT" envDefault:"5000"`
	Debug     bool   `yaml:"debug" env:"AGENT_DEBUG" envDefault:"true"`
	LogFile   string `yaml:"log_file" env:"AGENT_LOG_FILE" envDefault:"logs/app.log"`
	ClientID  string `yaml:"client_id" env:"CLIENT_ID" envDefault:"camera-1"`
	Collector string `yaml:"collector_url" env:"COLLECTOR_URL" envDefault:"http://localhost:8000"`

	CooldownSeconds  float64 `yaml:"cooldown_seconds" env:"COOLDOWN_SECONDS" envDefault:"5"`
	MinRegionArea    int     `yaml:"min_region_area" env:"MIN_REGION_AREA" envDefault:"1000"`
	SampleIntervalMS int     `yaml:"sample_interval_ms" env:"SAMPLE_INTERVAL_MS" envDefault:"100"`

	Alpha                    float64 `yaml:"alpha" env:"ALPHA" envDefault:"0.5"`
	DeltaThreshold           float64 `yaml:"delta_threshold" env:"DELTA_THRESHOLD" envDefault:"5"`
	BlurSigma                float64 `yaml:"blur_sigma" env:"BLUR_SIGMA" envDefault:"2"`
	DilateSize               int     `yaml:"dilate_size" env:"DILATE_SIZE" envDefault:"5"`
	ProcessWidth             int     `yaml:"process_width" env:"PROCESS_WIDTH" envDefault:"0"`
	QuiescenceTimeoutSeconds float64 `yaml:"quiescence_timeout_seconds" env:"QUIESCENCE_TIMEOUT_SECONDS" envDefault:"0"`
	HeartbeatIntervalSeconds float64 `yaml:"heartbeat_interval_seconds" env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`
	ReportTimeoutSeconds     float64 `yaml:"report_timeout_seconds" env:"REPORT_TIMEOUT_SECONDS" envDefault:"10"`
	Annotate                 bool    `yaml:"annotate" env:"ANNOTATE" envDefault:"true"`
	JPEGQuality              int     `yaml:"jpeg_quality" env:"JPEG_QUALITY" envDefault:"85"`
	StartPaused              bool    `yaml:"start_paused" env:"START_PAUSED" envDefault:"false"`

	Camera struct {
		Kind   string `yaml:"kind" env:"CAMERA_KIND" envDefault:"snapshot"`
		URL    string `yaml:"url" env:"CAMERA_URL" envDefault:"http://localhost:8080/snapshot.jpg"`
		Dir    string `yaml:"dir" env:"CAMERA_DIR"`
		Bucket string `yaml:"bucket" env:"CAMERA_BUCKET"`
		Prefix string `yaml:"prefix" env:"CAMERA_PREFIX"`
	} `yaml:"camera"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID" envDefault:"motion-agent"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC" envDefault:"agent-heartbeats"`
		EventTopic     string   `yaml:"event_topic" env:"EVENT_TOPIC" envDefault:"motion-events"`
		CommandTopic   string   `yaml:"command_topic" env:"COMMAND_TOPIC" envDefault:"agent-commands"`
	} `yaml:"kafka"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" envDefault:"motion"`
		Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
	} `yaml:"minio"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`
}

// Default returns a config populated only from envDefault tags.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads path (YAML or JSON), creating it with defaults when it is
// missing, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := bootstrap(path, cfg); err != nil {
			return nil, fmt.Errorf("bootstrap config %s: %w", path, err)
		}
	}

	// Читаем файл
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// JSON является подмножеством YAML, поэтому парсим одним декодером
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Переменные окружения имеют приоритет; дефолты уже применены выше
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "envNoDefault"}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	return cfg, nil
}

func bootstrap(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	defaults := map[string]any{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"debug":    cfg.Debug,
		"log_file": cfg.LogFile,
	}
	// yaml.v3 читает и JSON, так что config.json пишем в JSON
	data, err := json.MarshalIndent(defaults, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id must not be empty")
	}
	u, err := url.Parse(c.Collector)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid collector_url %q", c.Collector)
	}
	if c.SampleIntervalMS <= 0 {
		return fmt.Errorf("sample_interval_ms must be positive, got %d", c.SampleIntervalMS)
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be positive, got %v", c.HeartbeatIntervalSeconds)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative, got %v", c.CooldownSeconds)
	}
	// при alpha=1 среднее совпадает с кадром и разница всегда 0
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0,1), got %v", c.Alpha)
	}
	if c.MinRegionArea < 0 {
		return fmt.Errorf("min_region_area must not be negative, got %d", c.MinRegionArea)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) Cooldown() time.Duration {
	return seconds(c.CooldownSeconds)
}

func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.HeartbeatIntervalSeconds)
}

func (c *Config) ReportTimeout() time.Duration {
	return seconds(c.ReportTimeoutSeconds)
}

func (c *Config) QuiescenceTimeout() time.Duration {
	return seconds(c.QuiescenceTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
