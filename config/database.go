package config

// DBConfig contains PostgreSQL database configuration for the Store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"qsched"`
	Password string `env:"PASSWORD" envDefault:"qsched"`
	Name     string `env:"NAME"     envDefault:"qsched"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig configures the optional Redis-backed distributed lock used by
// the Scheduler when multiple replicas share one Store (see DESIGN.md).
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
	// Enabled turns on Redis-backed locking for the scheduler's fire-key
	// dedupe path. When false the scheduler uses a no-op locker and takes
	// no cross-replica lock.
	Enabled bool `env:"ENABLED" envDefault:"false"`
}
