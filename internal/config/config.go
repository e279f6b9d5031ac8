package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/roach88/growline/internal/notify"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "GROWLINE_CONFIG"

//go:embed schema.cue
var schemaCUE string

// Config is the complete growline configuration.
type Config struct {
	// Database is the SQLite file holding device records and the chunk cache.
	Database string `yaml:"database" json:"database"`

	Buckets   BucketsConfig   `yaml:"buckets" json:"buckets"`
	Analytics AnalyticsConfig `yaml:"analytics" json:"analytics"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Upload    UploadConfig    `yaml:"upload" json:"upload"`
	Chunks    ChunksConfig    `yaml:"chunks" json:"chunks"`
	Bus       BusConfig       `yaml:"bus" json:"bus"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
}

// BucketsConfig locates the blob buckets.
type BucketsConfig struct {
	// Root is the directory holding one subdirectory per bucket.
	Root string `yaml:"root" json:"root"`

	Images  string `yaml:"images" json:"images"`
	Uploads string `yaml:"uploads" json:"uploads"`

	// PublicURL prefixes object URLs. Empty uses file:// URLs.
	PublicURL string `yaml:"public_url" json:"public_url"`
}

// AnalyticsConfig configures the analytical sink.
type AnalyticsConfig struct {
	// Dir receives lz4 NDJSON segments. Empty disables forwarding.
	Dir string `yaml:"dir" json:"dir"`
}

// QueueConfig bounds the per-device property lists.
type QueueConfig struct {
	MaxLen      int `yaml:"max_len" json:"max_len"`
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// UploadConfig tunes the upload poller.
type UploadConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	Budget       Duration `yaml:"budget" json:"budget"`
	SweepAge     Duration `yaml:"sweep_age" json:"sweep_age"`
}

// ChunksConfig tunes fragment reassembly.
type ChunksConfig struct {
	AbandonAfter Duration `yaml:"abandon_after" json:"abandon_after"`
}

// BusConfig tunes the in-process bus.
type BusConfig struct {
	Workers       int `yaml:"workers" json:"workers"`
	MaxDeliveries int `yaml:"max_deliveries" json:"max_deliveries"`
}

// SchedulerConfig configures the notification scheduler.
type SchedulerConfig struct {
	// TestingHours shifts the scheduler's clock forward.
	TestingHours int `yaml:"testing_hours" json:"testing_hours"`

	// Commands replaces the built-in command set.
	Commands []notify.Command `yaml:"commands" json:"commands"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "growline.db",
		Buckets: BucketsConfig{
			Root:    "buckets",
			Images:  "images",
			Uploads: "uploads",
		},
		Analytics: AnalyticsConfig{Dir: "analytics"},
		Queue:     QueueConfig{MaxLen: 100, MaxAttempts: 15},
		Upload: UploadConfig{
			PollInterval: Duration(10 * time.Second),
			Budget:       Duration(5 * time.Minute),
			SweepAge:     Duration(2 * time.Hour),
		},
		Chunks: ChunksConfig{AbandonAfter: Duration(time.Hour)},
		Bus:    BusConfig{Workers: 4, MaxDeliveries: 5},
		Scheduler: SchedulerConfig{
			Commands: notify.DefaultCommands(),
		},
	}
}

// Load reads the file at path, or at $GROWLINE_CONFIG when path is empty.
// With neither set it returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates one config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, isJSON(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func isJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	}
	return false
}

// Parse layers data over Default and validates the result. JSON input may
// carry comments and trailing commas.
func Parse(data []byte, jsonInput bool) (*Config, error) {
	if jsonInput {
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVariables expands ${VAR} references in path fields.
func (c *Config) expandVariables() {
	c.Database = os.ExpandEnv(c.Database)
	c.Buckets.Root = os.ExpandEnv(c.Buckets.Root)
	c.Analytics.Dir = os.ExpandEnv(c.Analytics.Dir)
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("load config value: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Buckets.Images == c.Buckets.Uploads {
		return fmt.Errorf("invalid config: buckets.uploads must differ from buckets.images (%q)", c.Buckets.Images)
	}
	return nil
}
