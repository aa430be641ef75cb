package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the process configuration, decoded from the environment.
// A .env file in the working directory is loaded first when present.
type Config struct {
	Addr        string `env:"LEDGER_ADDR,default=:8080"`
	DatabaseURL string `env:"DATABASE_URL"` // empty selects the in-memory store

	KafkaBrokers []string `env:"KAFKA_BROKERS"` // empty disables event publishing
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=ledger.events"`

	AuditSchedule string `env:"AUDIT_SCHEDULE,default=@every 10m"`

	// Shift reconciliation variance policy. Tolerance is an absolute
	// amount; when BlockOnVariance is set, any reconciliation row whose
	// |difference| exceeds it blocks reconcileShift instead of warning.
	VarianceToleranceRaw string `env:"VARIANCE_TOLERANCE,default=0"`
	BlockOnVariance      bool   `env:"BLOCK_ON_VARIANCE,default=false"`

	// SeedChart installs the default chart of accounts on startup,
	// intended for dev mode with the in-memory store.
	SeedChart bool `env:"SEED_CHART,default=true"`

	// Account codes the shift service posts against.
	TillAccountCode     string `env:"TILL_ACCOUNT_CODE,default=1010"`
	BankAccountCode     string `env:"BANK_ACCOUNT_CODE,default=1020"`
	ClearingAccountCode string `env:"CLEARING_ACCOUNT_CODE,default=4010"`

	// VarianceTolerance is parsed from VarianceToleranceRaw by Load.
	VarianceTolerance decimal.Decimal
}

// Load reads .env (if any) and decodes the environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	tol, err := decimal.NewFromString(cfg.VarianceToleranceRaw)
	if err != nil {
		return Config{}, fmt.Errorf("parse VARIANCE_TOLERANCE %q: %w", cfg.VarianceToleranceRaw, err)
	}
	cfg.VarianceTolerance = tol

	return cfg, nil
}
