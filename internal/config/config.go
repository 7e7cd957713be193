package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/facturaIA/lector-ncf/internal/ledger"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/ocr"
	"github.com/facturaIA/lector-ncf/internal/services"
	"github.com/facturaIA/lector-ncf/internal/storage"
)

// OCR engines.
const (
	OCRGemini = ocr.EngineGemini
	OCROpenAI = ocr.EngineOpenAI
	OCRText   = ocr.EngineText
)

// Config holds application configuration
type Config struct {
	Port       int              `yaml:"port"`
	Host       string           `yaml:"host"`
	LogLevel   string           `yaml:"log_level"`
	OCR        OCRConfig        `yaml:"ocr"`
	AI         AIConfig         `yaml:"ai"`
	Validation ValidationConfig `yaml:"validation"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Storage    StorageConfig    `yaml:"storage"`
	Export     ExportConfig     `yaml:"export"`
	Auth       AuthConfig       `yaml:"auth"`
}

// OCRConfig selects the recognizer. Confidence is reported for engines that
// do not score their own output.
type OCRConfig struct {
	Engine     string  `yaml:"engine"`
	Confidence float64 `yaml:"confidence"`
	Preprocess bool    `yaml:"preprocess"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GeminiConfig holds Gemini configuration
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ValidationConfig is the rule side of the engine.
type ValidationConfig struct {
	Tolerance         string           `yaml:"tolerance"`
	AmountSeverity    string           `yaml:"amount_severity"`
	DuplicateSeverity string           `yaml:"duplicate_severity"`
	NCFRules          []models.NCFRule `yaml:"ncf_rules"`
	RNCLengths        []int            `yaml:"rnc_lengths"`
	MinConfidence     float64          `yaml:"min_confidence"`
	Weights           services.Weights `yaml:"weights"`
}

// LedgerConfig locates the NCF ledger.
type LedgerConfig struct {
	Backend      string        `yaml:"backend"`
	Path         string        `yaml:"path"`
	DatabaseURL  string        `yaml:"database_url"`
	InsertPolicy string        `yaml:"insert_policy"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StorageConfig points at the MinIO bucket for source images and exports.
// An empty endpoint disables object storage.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ExportConfig lists the export sinks; empty values are disabled.
type ExportConfig struct {
	CSVPath       string `yaml:"csv_path"`
	XLSXPath      string `yaml:"xlsx_path"`
	JSONDir       string `yaml:"json_dir"`
	JSONToStorage bool   `yaml:"json_to_storage"`
	JSONName      string `yaml:"json_name"`
	PostgresURL   string `yaml:"postgres_url"` // facturas archive
}

// AuthConfig configures bearer token auth.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:     8080,
		Host:     "0.0.0.0",
		LogLevel: "info",
		OCR:      OCRConfig{Engine: OCRGemini, Confidence: 0.85},
		AI: AIConfig{
			OpenAI: OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini: GeminiConfig{Model: "gemini-1.5-flash"},
		},
		Validation: ValidationConfig{
			Tolerance:         services.DefaultTolerance.String(),
			AmountSeverity:    string(models.SeverityWarning),
			DuplicateSeverity: string(models.SeverityWarning),
			MinConfidence:     services.DefaultMinConfidence,
			Weights:           services.DefaultWeights(),
		},
		Ledger: LedgerConfig{
			Backend:      ledger.BackendMemory,
			InsertPolicy: string(services.InsertAccepted),
			Timeout:      ledger.DefaultTimeout,
		},
		Storage: StorageConfig{Bucket: "facturas"},
		Export:  ExportConfig{JSONName: "facturas.json"},
		Auth:    AuthConfig{TokenTTL: 24 * time.Hour},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = p
	}
	setString(&cfg.Host, "HOST")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.OCR.Engine, "OCR_ENGINE")
	if v := os.Getenv("OCR_PREPROCESS"); v != "" {
		cfg.OCR.Preprocess = v == "true"
	}

	setString(&cfg.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.AI.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.AI.OpenAI.Model, "OPENAI_MODEL")
	setString(&cfg.AI.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.AI.Gemini.Model, "GEMINI_MODEL")

	setString(&cfg.Validation.Tolerance, "AMOUNT_TOLERANCE")
	setString(&cfg.Validation.AmountSeverity, "AMOUNT_SEVERITY")
	setString(&cfg.Validation.DuplicateSeverity, "DUPLICATE_SEVERITY")

	setString(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	setString(&cfg.Ledger.Path, "LEDGER_PATH")
	setString(&cfg.Ledger.InsertPolicy, "LEDGER_INSERT_POLICY")
	if url := databaseURL(); url != "" {
		cfg.Ledger.DatabaseURL = url
	}

	setString(&cfg.Storage.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Storage.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Storage.Bucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.Storage.UseSSL = v == "true"
	}

	setString(&cfg.Export.CSVPath, "EXPORT_CSV_PATH")
	setString(&cfg.Export.XLSXPath, "EXPORT_XLSX_PATH")
	setString(&cfg.Export.JSONDir, "EXPORT_JSON_DIR")
	setString(&cfg.Export.PostgresURL, "EXPORT_DATABASE_URL")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// DB_* variables when DB_HOST is set.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD")
	name := getEnv("DB_NAME", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the values that the engine would otherwise silently
// replace with defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.OCR.Engine {
	case OCRGemini, OCROpenAI, OCRText:
	default:
		errs = append(errs, fmt.Errorf("unknown ocr engine %q", c.OCR.Engine))
	}
	if !(c.OCR.Confidence >= 0 && c.OCR.Confidence <= 1) {
		errs = append(errs, fmt.Errorf("ocr confidence %v outside [0,1]", c.OCR.Confidence))
	}

	if _, err := c.tolerance(); err != nil {
		errs = append(errs, err)
	}
	if _, ok := models.ParseSeverity(c.Validation.AmountSeverity, models.SeverityWarning); !ok {
		errs = append(errs, fmt.Errorf("invalid amount severity %q", c.Validation.AmountSeverity))
	}
	if _, ok := models.ParseSeverity(c.Validation.DuplicateSeverity, models.SeverityWarning); !ok {
		errs = append(errs, fmt.Errorf("invalid duplicate severity %q", c.Validation.DuplicateSeverity))
	}
	for _, r := range c.Validation.NCFRules {
		if len(r.Prefix) != 3 || r.Length <= len(r.Prefix) {
			errs = append(errs, fmt.Errorf("invalid ncf rule %q (length %d)", r.Prefix, r.Length))
		}
	}
	for _, n := range c.Validation.RNCLengths {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("invalid rnc length %d", n))
		}
	}
	if !(c.Validation.MinConfidence >= 0 && c.Validation.MinConfidence <= 1) {
		errs = append(errs, fmt.Errorf("min confidence %v outside [0,1]", c.Validation.MinConfidence))
	}

	switch c.Ledger.Backend {
	case ledger.BackendMemory, ledger.BackendBolt, ledger.BackendSQLite:
	case ledger.BackendPostgres:
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres ledger requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	if (c.Ledger.Backend == ledger.BackendBolt || c.Ledger.Backend == ledger.BackendSQLite) && c.Ledger.Path == "" {
		errs = append(errs, fmt.Errorf("%s ledger requires a path", c.Ledger.Backend))
	}
	switch services.InsertPolicy(c.Ledger.InsertPolicy) {
	case services.InsertAccepted, services.InsertAlways:
	default:
		errs = append(errs, fmt.Errorf("unknown insert policy %q", c.Ledger.InsertPolicy))
	}

	return errors.Join(errs...)
}

func (c *Config) tolerance() (decimal.Decimal, error) {
	if c.Validation.Tolerance == "" {
		return services.DefaultTolerance, nil
	}
	d, err := decimal.NewFromString(c.Validation.Tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tolerance %q: %w", c.Validation.Tolerance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("tolerance %s is negative", d)
	}
	return d, nil
}

// EngineConfig converts the validated configuration into engine options.
func (c *Config) EngineConfig() (services.EngineConfig, error) {
	tol, err := c.tolerance()
	if err != nil {
		return services.EngineConfig{}, err
	}
	amountSev, _ := models.ParseSeverity(c.Validation.AmountSeverity, models.SeverityWarning)
	dupSev, _ := models.ParseSeverity(c.Validation.DuplicateSeverity, models.SeverityWarning)

	return services.EngineConfig{
		Validator: services.ValidatorConfig{
			Rules:             models.NCFRules(c.Validation.NCFRules),
			RNCLengths:        c.Validation.RNCLengths,
			Tolerance:         &tol,
			AmountSeverity:    amountSev,
			DuplicateSeverity: dupSev,
		},
		Weights:      c.Validation.Weights,
		InsertPolicy: services.InsertPolicy(c.Ledger.InsertPolicy),
	}, nil
}

// LedgerOptions returns the store selection for ledger.Open.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Backend:     c.Ledger.Backend,
		Path:        c.Ledger.Path,
		DatabaseURL: c.Ledger.DatabaseURL,
	}
}

// OCROptions returns the recognizer selection for ocr.New.
func (c *Config) OCROptions() ocr.Options {
	return ocr.Options{
		Engine:        c.OCR.Engine,
		Confidence:    c.OCR.Confidence,
		GeminiAPIKey:  c.AI.Gemini.APIKey,
		GeminiModel:   c.AI.Gemini.Model,
		OpenAIAPIKey:  c.AI.OpenAI.APIKey,
		OpenAIBaseURL: c.AI.OpenAI.BaseURL,
		OpenAIModel:   c.AI.OpenAI.Model,
		Preprocess:    c.OCR.Preprocess,
	}
}

// StorageOptions returns the MinIO settings. ok is false when no endpoint
// is configured.
func (c *Config) StorageOptions() (opts storage.Options, ok bool) {
	return storage.Options{
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		Bucket:    c.Storage.Bucket,
		UseSSL:    c.Storage.UseSSL,
	}, c.Storage.Endpoint != ""
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
