// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Server       ServerConfig            `mapstructure:"server"`
	Session      SessionConfig           `mapstructure:"session"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Narrative    NarrativeConfig         `mapstructure:"narrative"`
	Leads        LeadConfig              `mapstructure:"leads"`
	Logging      LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Port              int      `mapstructure:"port"`
	ReadTimeout       int      `mapstructure:"read_timeout"`       // milliseconds
	WriteTimeout      int      `mapstructure:"write_timeout"`      // milliseconds
	ShutdownTimeout   int      `mapstructure:"shutdown_timeout"`   // milliseconds
	BackgroundTimeout int      `mapstructure:"background_timeout"` // milliseconds, narrative + lead sync
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
}

// Address returns the listen address for the HTTP server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

const (
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// SessionConfig controls where form sessions live between steps.
type SessionConfig struct {
	Backend   string `mapstructure:"backend"`
	TTL       int    `mapstructure:"ttl"` // milliseconds
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// IntegrationConfig holds settings for CRM, email and alerting.
type IntegrationConfig struct {
	Zoho struct {
		Enabled    bool   `mapstructure:"enabled"`
		BaseURL    string `mapstructure:"base_url"`
		AuthToken  string `mapstructure:"oauth_token"`
		Timeout    int    `mapstructure:"timeout"`     // milliseconds
		RetryDelay int    `mapstructure:"retry_delay"` // milliseconds
		LeadSource string `mapstructure:"lead_source"`
	} `mapstructure:"zoho"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled       bool   `mapstructure:"enabled"`
			FromEmail     string `mapstructure:"from_email"`
			ReportSubject string `mapstructure:"report_subject"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled       bool   `mapstructure:"enabled"`
			SalesTopicARN string `mapstructure:"sales_topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

const (
	NarrativeProviderGateway  = "gateway"
	NarrativeProviderGemini   = "gemini"
	NarrativeProviderFallback = "fallback"
)

// NarrativeConfig selects and tunes the AI analysis generator.
type NarrativeConfig struct {
	Provider string `mapstructure:"provider"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds

	GenAI struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		Temperature float64 `mapstructure:"temperature"`
		MaxRetries  int     `mapstructure:"max_retries"`
	} `mapstructure:"genai"`

	Gemini struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
	} `mapstructure:"gemini"`
}

const (
	LeadSinkZoho          = "zoho"
	LeadSinkPostgres      = "postgres"
	LeadSinkElasticsearch = "elasticsearch"
)

// LeadConfig lists the sinks a captured lead is delivered to. The first one is primary.
type LeadConfig struct {
	Sinks              []string `mapstructure:"sinks"`
	ElasticsearchIndex string   `mapstructure:"elasticsearch_index"`
	NotifyLead         bool     `mapstructure:"notify_lead"`
	AlertSales         bool     `mapstructure:"alert_sales"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
