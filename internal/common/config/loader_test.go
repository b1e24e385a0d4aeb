package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const baseYAML = `
camunda:
  broker_address: localhost:26500
storage:
  driver: memory
database:
  redis:
    address: localhost:6379
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "500", cfg.Fees.Default.Amount)
	assert.Equal(t, "AED", cfg.Fees.Default.Currency)
	assert.Equal(t, 5, cfg.Ledger.MaxConflictRetries)
	assert.Equal(t, "500", cfg.Ledger.LowBalanceThreshold)
	assert.Equal(t, ExpiryPolicyFlag, cfg.Escrow.ExpiryPolicy)
	assert.Equal(t, 72*time.Hour, cfg.TrialDuration())
	assert.Equal(t, 90*24*time.Hour, cfg.EscrowHoldingPeriod())
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "credit-ledger-audit", cfg.Database.Elasticsearch.AuditIndex)
}

func TestLoadFromFile_NormalizesCountryRules(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, baseYAML+`
fees:
  default:
    amount: 500
    currency: AED
  countries:
    ae:
      amount: 500
    sa:
      amount: "750.50"
      currency: SAR
`))
	require.NoError(t, err)

	require.Contains(t, cfg.Fees.Countries, "AE")
	require.Contains(t, cfg.Fees.Countries, "SA")
	assert.Equal(t, "AED", cfg.Fees.Countries["AE"].Currency)
	assert.Equal(t, "750.50", cfg.Fees.Countries["SA"].Amount)
	assert.Equal(t, "SAR", cfg.Fees.Countries["SA"].Currency)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "unknown expiry policy",
			extra:   "escrow:\n  expiry_policy: burn\n",
			wantErr: "escrow.expiry_policy",
		},
		{
			name:    "negative fee",
			extra:   "fees:\n  default:\n    amount: -5\n",
			wantErr: "fees.default.amount must be positive",
		},
		{
			name:    "bad threshold",
			extra:   "ledger:\n  low_balance_threshold: lots\n",
			wantErr: "ledger.low_balance_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, baseYAML+tt.extra))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_PostgresRequiresHost(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  redis:
    address: localhost:6379
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.postgres.host is required")
}

func TestLoadFromFile_CamundaBrokerRequiredWhenEnabled(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
camunda:
  enabled: true
storage:
  driver: memory
database:
  redis:
    address: localhost:6379
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camunda.broker_address")
}

func TestGetWorkerConfig_FallsBack(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"deposit-funds": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "deposit-funds"))
	assert.True(t, IsWorkerEnabled(cfg, "create-placement"))
	assert.Equal(t, 5, GetWorkerConfig(cfg, "create-placement").MaxJobsActive)
	assert.Equal(t, 2, GetWorkerConfig(cfg, "deposit-funds").MaxJobsActive)
}
