// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Fees          FeesConfig              `mapstructure:"fees"`
	Ledger        LedgerConfig            `mapstructure:"ledger"`
	Escrow        EscrowConfig            `mapstructure:"escrow"`
	Workflow      WorkflowConfig          `mapstructure:"workflow"`
	Sweeps        SweepsConfig            `mapstructure:"sweeps"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	TLS            bool   `mapstructure:"tls"`
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
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
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
	AuditIndex string   `mapstructure:"audit_index"`
}

// Enabled reports whether an audit cluster is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects the record store backing ledger, escrow and placements.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | memory
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for the AWS messaging services and the
// CRM that owns agency contact details.
type IntegrationConfig struct {
	Zoho struct {
		Enabled    bool   `mapstructure:"enabled"`
		BaseURL    string `mapstructure:"base_url"`
		OAuthToken string `mapstructure:"oauth_token"`
		Timeout    int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"zoho"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// NotificationConfig controls agency-facing balance notifications.
type NotificationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Timeout int  `mapstructure:"timeout"` // milliseconds per delivery
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// FeeRule is the placement fee charged for one sponsor market. Amount is a
// decimal string so YAML never round-trips money through float64.
type FeeRule struct {
	Amount   string `mapstructure:"amount"`
	Currency string `mapstructure:"currency"`
}

type FeesConfig struct {
	Default   FeeRule            `mapstructure:"default"`
	Countries map[string]FeeRule `mapstructure:"countries"`
}

type LedgerConfig struct {
	MaxConflictRetries  int    `mapstructure:"max_conflict_retries"`
	LowBalanceThreshold string `mapstructure:"low_balance_threshold"`
	HistoryLimit        int    `mapstructure:"history_limit"`
}

// Escrow expiry policies.
const (
	ExpiryPolicyFlag    = "flag"
	ExpiryPolicyRefund  = "refund"
	ExpiryPolicyRelease = "release"
)

type EscrowConfig struct {
	HoldingPeriodDays int    `mapstructure:"holding_period_days"`
	ExpiryPolicy      string `mapstructure:"expiry_policy"`
}

type WorkflowConfig struct {
	TrialDurationHours int `mapstructure:"trial_duration_hours"`
	StepRetries        int `mapstructure:"step_retries"`
	StepRetryDelay     int `mapstructure:"step_retry_delay"` // milliseconds
}

// SweepsConfig holds cron specs for the background sweeps. An empty spec
// disables that sweep.
type SweepsConfig struct {
	TrialTimeout string `mapstructure:"trial_timeout"`
	EscrowExpiry string `mapstructure:"escrow_expiry"`
	Reconcile    string `mapstructure:"reconcile"`
	BatchSize    int    `mapstructure:"batch_size"`
}
