package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	OCR         OCRConfig                 `json:"ocr" yaml:"ocr"`
	Reference   ReferenceConfig           `json:"reference" yaml:"reference"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// Database selects the driver entry in Databases.
	Database string `json:"database" yaml:"database"`
	// DataDir holds prompts.json, fileId.json and scratch space for PDF rendering.
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	PromptsFile string `json:"prompts_file" yaml:"prompts_file"`
	FileIDFile  string `json:"file_id_file" yaml:"file_id_file"`
	// RequestTimeout bounds a single upstream call, in seconds.
	RequestTimeout int   `json:"request_timeout" yaml:"request_timeout"`
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	// SessionIdleTimeout retires idle conversation actors, in minutes. 0 keeps them for the process lifetime.
	SessionIdleTimeout int `json:"session_idle_timeout" yaml:"session_idle_timeout"`
	SessionQueueSize   int `json:"session_queue_size" yaml:"session_queue_size"`
	// ChatProvider selects the model behind translation and free chat.
	ChatProvider string `json:"chat_provider" yaml:"chat_provider"`
	// ChatTools lets the free chat model call web search and read the session's document.
	ChatTools bool `json:"chat_tools" yaml:"chat_tools"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type OCRConfig struct {
	Languages   []string `json:"languages" yaml:"languages"`
	PDFScale    float64  `json:"pdf_scale" yaml:"pdf_scale"`
	Pdftoppm    string   `json:"pdftoppm" yaml:"pdftoppm"`
	MaxPages    int      `json:"max_pages" yaml:"max_pages"`
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
	TessdataDir string   `json:"tessdata_dir" yaml:"tessdata_dir"`
}

type ReferenceConfig struct {
	// Path of a local document uploaded when no file handle is recorded yet.
	Path        string `json:"path" yaml:"path"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	MimeType    string `json:"mime_type" yaml:"mime_type"`
	// Poll delays are in seconds.
	PollBaseDelay int `json:"poll_base_delay" yaml:"poll_base_delay"`
	PollMaxDelay  int `json:"poll_max_delay" yaml:"poll_max_delay"`
	MaxAttempts   int `json:"max_attempts" yaml:"max_attempts"`
}

type LogConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Encoding    string   `json:"encoding" yaml:"encoding"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first; environment
// variables override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if _, ok := cfg.Databases[cfg.BasicConfig.Database]; !ok {
		return nil, fmt.Errorf("database %q is not configured", cfg.BasicConfig.Database)
	}
	return &cfg, nil
}

// ScratchDir is where page images are rendered before OCR.
func (c *Config) ScratchDir() string {
	return filepath.Join(c.BasicConfig.DataDir, "tmp")
}

// EnsureDataDir creates the data and scratch directories.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.ScratchDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Provider returns the provider section or an error naming the missing provider.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	p, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("provider %s not configured", name)
	}
	return p, nil
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		p := c.Providers["gemini"]
		p.APIKey = key
		c.Providers["gemini"] = p
	}
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		p := c.Providers["perplexity"]
		p.APIKey = key
		c.Providers["perplexity"] = p
	}
	if driver := os.Getenv("LEGALEASE_DB"); driver != "" {
		c.BasicConfig.Database = driver
	}
	if port := os.Getenv("PORT"); port != "" {
		c.BasicConfig.ServerAddress = ":" + port
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		if c.Databases == nil {
			c.Databases = make(map[string]DatabaseConfig)
		}
		db := c.Databases["mysql"]
		db.Host = host
		db.Username = os.Getenv("DB_USER")
		db.Password = os.Getenv("DB_PASSWORD")
		db.DBName = os.Getenv("DB_NAME")
		if p, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
			db.Port = p
		}
		c.Databases["mysql"] = db
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":3000"
	}
	if b.Database == "" {
		if _, ok := c.Databases["mysql"]; ok {
			b.Database = "mysql"
		} else {
			b.Database = "sqlite3"
		}
	}
	if b.DataDir == "" {
		b.DataDir = "./data"
	}
	if b.PromptsFile == "" {
		b.PromptsFile = "prompts.json"
	}
	if b.FileIDFile == "" {
		b.FileIDFile = "fileId.json"
	}
	if b.RequestTimeout <= 0 {
		b.RequestTimeout = 120
	}
	if b.MaxUploadBytes <= 0 {
		b.MaxUploadBytes = 20 << 20
	}
	if b.SessionQueueSize <= 0 {
		b.SessionQueueSize = 16
	}
	if b.ChatProvider == "" {
		b.ChatProvider = "perplexity"
	}

	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng", "hin", "kan"}
	}
	if c.OCR.PDFScale <= 0 {
		c.OCR.PDFScale = 2.0
	}
	if c.OCR.Pdftoppm == "" {
		c.OCR.Pdftoppm = "pdftoppm"
	}
	if c.OCR.Concurrency <= 0 {
		c.OCR.Concurrency = 2
	}

	r := &c.Reference
	if r.MimeType == "" {
		r.MimeType = "application/pdf"
	}
	if r.DisplayName == "" {
		r.DisplayName = "Uploaded PDF"
	}
	if r.PollBaseDelay <= 0 {
		r.PollBaseDelay = 5
	}
	if r.PollMaxDelay <= 0 {
		r.PollMaxDelay = 40
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stdout"}
	}

	defaults := map[string]ProviderConfig{
		"perplexity": {BaseURL: "https://api.perplexity.ai", Model: "sonar-pro"},
		"gemini":     {Model: "gemini-2.5-flash"},
	}
	for name, def := range defaults {
		p := c.Providers[name]
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.Model == "" {
			p.Model = def.Model
		}
		c.Providers[name] = p
	}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.BasicConfig.DataDir = resolve(c.BasicConfig.DataDir)
	// The editable JSON files live under the data dir unless given absolutely.
	inData := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.BasicConfig.DataDir, p)
	}
	c.BasicConfig.PromptsFile = inData(c.BasicConfig.PromptsFile)
	c.BasicConfig.FileIDFile = inData(c.BasicConfig.FileIDFile)
	c.Reference.Path = resolve(c.Reference.Path)
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
		db.DSN = resolve(db.DSN)
		c.Databases["sqlite3"] = db
	}
}
