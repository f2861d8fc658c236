package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	Database  DatabaseConfig  `yaml:"database"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Sketch    SketchConfig    `yaml:"sketch"`
	S3        S3Config        `yaml:"s3"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Enroll    EnrollConfig    `yaml:"enroll"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // CORS origins besides localhost
}

type RegistryConfig struct {
	Backend       string `yaml:"backend"`         // "dir" or "sql"
	KnownFacesDir string `yaml:"known_faces_dir"` // root of the canonical images for the dir backend
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres, mysql or sqlite
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type MatcherConfig struct {
	Threshold      float64 `yaml:"threshold"`
	Policy         string  `yaml:"policy"` // "first" or "closest"
	IndexThreshold int     `yaml:"index_threshold"`
}

type LivenessConfig struct {
	CascadePath  string  `yaml:"cascade_path"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinSize      int     `yaml:"min_size"`
}

type ExtractorConfig struct {
	Backend   string `yaml:"backend"` // "http" or "dlib"
	URL       string `yaml:"url"`
	ModelsDir string `yaml:"models_dir"`
}

type SketchConfig struct {
	MaxBytes       int           `yaml:"max_bytes"`
	InitialQuality int           `yaml:"initial_quality"`
	QualityFloor   int           `yaml:"quality_floor"`
	QualityStep    int           `yaml:"quality_step"`
	ScaleStep      float64       `yaml:"scale_step"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Deadline       time.Duration `yaml:"deadline"`
	Store          string        `yaml:"store"` // "local" or "s3"
	Dir            string        `yaml:"dir"`
	URLPrefix      string        `yaml:"url_prefix"`
	MaxAge         time.Duration `yaml:"max_age"`   // zero keeps artifacts forever
	MaxCount       int           `yaml:"max_count"` // zero means no count limit
	PruneInterval  time.Duration `yaml:"prune_interval"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"` // base URL for sketch links, defaults to the endpoint
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables the MQTT transport
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type EnrollConfig struct {
	RejectMultipleFaces bool `yaml:"reject_multiple_faces"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
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

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envString returns the env var value, or defaultVal when it is unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated env var, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var items []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Load builds the configuration from the embedded defaults, the optional YAML
// file named by FACEGATE_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("FACEGATE_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("WEB_HOST", c.Server.Host)
	c.Server.Port = envInt("WEB_PORT", c.Server.Port)
	c.Server.RequestTimeout = envDuration("WEB_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Registry.Backend = envString("REGISTRY_BACKEND", c.Registry.Backend)
	c.Registry.KnownFacesDir = envString("KNOWN_FACES_DIR", c.Registry.KnownFacesDir)

	c.Database.Driver = envString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Matcher.Threshold = envFloat("MATCH_THRESHOLD", c.Matcher.Threshold)
	c.Matcher.Policy = envString("MATCH_POLICY", c.Matcher.Policy)
	c.Matcher.IndexThreshold = envInt("MATCH_INDEX_THRESHOLD", c.Matcher.IndexThreshold)

	c.Liveness.CascadePath = envString("LIVENESS_CASCADE_PATH", c.Liveness.CascadePath)
	c.Liveness.ScaleFactor = envFloat("LIVENESS_SCALE_FACTOR", c.Liveness.ScaleFactor)
	c.Liveness.MinNeighbors = envInt("LIVENESS_MIN_NEIGHBORS", c.Liveness.MinNeighbors)
	c.Liveness.MinSize = envInt("LIVENESS_MIN_SIZE", c.Liveness.MinSize)

	c.Extractor.Backend = envString("EXTRACTOR_BACKEND", c.Extractor.Backend)
	c.Extractor.URL = envString("EMBEDDING_URL", c.Extractor.URL)
	c.Extractor.ModelsDir = envString("EXTRACTOR_MODELS_DIR", c.Extractor.ModelsDir)

	c.Sketch.MaxBytes = envInt("SKETCH_MAX_BYTES", c.Sketch.MaxBytes)
	c.Sketch.InitialQuality = envInt("SKETCH_INITIAL_QUALITY", c.Sketch.InitialQuality)
	c.Sketch.QualityFloor = envInt("SKETCH_QUALITY_FLOOR", c.Sketch.QualityFloor)
	c.Sketch.QualityStep = envInt("SKETCH_QUALITY_STEP", c.Sketch.QualityStep)
	c.Sketch.ScaleStep = envFloat("SKETCH_SCALE_STEP", c.Sketch.ScaleStep)
	c.Sketch.MaxAttempts = envInt("SKETCH_MAX_ATTEMPTS", c.Sketch.MaxAttempts)
	c.Sketch.Deadline = envDuration("SKETCH_DEADLINE", c.Sketch.Deadline)
	c.Sketch.Store = envString("SKETCH_STORE", c.Sketch.Store)
	c.Sketch.Dir = envString("SKETCH_DIR", c.Sketch.Dir)
	c.Sketch.URLPrefix = envString("SKETCH_URL_PREFIX", c.Sketch.URLPrefix)
	c.Sketch.MaxAge = envDuration("SKETCH_MAX_AGE", c.Sketch.MaxAge)
	c.Sketch.MaxCount = envInt("SKETCH_MAX_COUNT", c.Sketch.MaxCount)
	c.Sketch.PruneInterval = envDuration("SKETCH_PRUNE_INTERVAL", c.Sketch.PruneInterval)

	c.S3.Endpoint = envString("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = envString("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = envString("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = envString("S3_BUCKET", c.S3.Bucket)
	c.S3.UseSSL = envBool("S3_SECURE", c.S3.UseSSL)
	c.S3.PublicURL = envString("S3_PUBLIC_URL", c.S3.PublicURL)

	c.MQTT.Broker = envString("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = envString("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = envString("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = envString("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = envString("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.Enroll.RejectMultipleFaces = envBool("ENROLL_REJECT_MULTIPLE_FACES", c.Enroll.RejectMultipleFaces)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}

// Validate reports every impossible combination of settings at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}

	switch c.Registry.Backend {
	case "dir":
		if c.Registry.KnownFacesDir == "" {
			errs = append(errs, errors.New("KNOWN_FACES_DIR is required for the dir registry backend"))
		}
	case "sql":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the sql registry backend"))
		}
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}

	if c.Matcher.Threshold <= 0 {
		errs = append(errs, errors.New("match threshold must be positive"))
	}
	if c.Matcher.Policy != "first" && c.Matcher.Policy != "closest" {
		errs = append(errs, fmt.Errorf("unknown match policy %q", c.Matcher.Policy))
	}

	if c.Liveness.ScaleFactor <= 1 {
		errs = append(errs, errors.New("liveness scale factor must be greater than 1"))
	}

	if c.Extractor.Backend != "http" && c.Extractor.Backend != "dlib" {
		errs = append(errs, fmt.Errorf("unknown extractor backend %q", c.Extractor.Backend))
	}

	s := c.Sketch
	if s.MaxBytes <= 0 {
		errs = append(errs, errors.New("sketch max bytes must be positive"))
	}
	if s.InitialQuality < 1 || s.InitialQuality > 100 {
		errs = append(errs, fmt.Errorf("sketch initial quality %d out of range 1-100", s.InitialQuality))
	}
	if s.QualityFloor < 1 || s.QualityFloor > s.InitialQuality {
		errs = append(errs, fmt.Errorf("sketch quality floor %d must be between 1 and the initial quality", s.QualityFloor))
	}
	if s.QualityStep <= 0 {
		errs = append(errs, errors.New("sketch quality step must be positive"))
	}
	if s.ScaleStep <= 0 || s.ScaleStep >= 1 {
		errs = append(errs, fmt.Errorf("sketch scale step %v must be within (0, 1)", s.ScaleStep))
	}
	if s.MaxAttempts <= 0 {
		errs = append(errs, errors.New("sketch max attempts must be positive"))
	}
	switch s.Store {
	case "local":
		if s.Dir == "" {
			errs = append(errs, errors.New("SKETCH_DIR is required for the local sketch store"))
		}
	case "s3":
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for the s3 sketch store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sketch store %q", s.Store))
	}

	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address of the web server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
