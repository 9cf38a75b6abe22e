package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/rent-advance/advance"
)

type Config struct {
	Environment string `mapstructure:"env"`

	HTTP struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"http"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Engine struct {
		RecentExhaustionDays  int `mapstructure:"recent_exhaustion_days"`
		PaymentLookbackMonths int `mapstructure:"payment_lookback_months"`
		CurrentMonthCutoffDay int `mapstructure:"current_month_cutoff_day"`
		EffectiveCutoffDay    int `mapstructure:"effective_cutoff_day"`
	} `mapstructure:"engine"`

	Sweep struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"sweep"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	CORS struct {
		AllowedOrigins []string `mapstructure:"-"`
	} `mapstructure:"-"`
}

// Load reads .env (if present), configs/config.yaml (if present) and the
// environment. Environment keys are the config keys upper-cased with dots
// replaced by underscores, e.g. HTTP_PORT for http.port; app.env is APP_ENV.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set sensible defaults (binary works without config file)
	v.SetDefault("env", "development")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.path", "advances.db")
	v.SetDefault("engine.recent_exhaustion_days", 30)
	v.SetDefault("engine.payment_lookback_months", 5)
	v.SetDefault("engine.current_month_cutoff_day", 0)
	v.SetDefault("engine.effective_cutoff_day", 0)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "1h")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cors.allowed_origins", "http://localhost:5173")
	_ = v.BindEnv("env", "APP_ENV")

	// Config file is optional
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	cfg.CORS.AllowedOrigins = parseList(v.GetString("cors.allowed_origins"))

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// EngineOptions converts the engine section into advance.Options.
func (c *Config) EngineOptions() advance.Options {
	return advance.Options{
		RecentExhaustionWindow: time.Duration(c.Engine.RecentExhaustionDays) * 24 * time.Hour,
		PaymentLookbackMonths:  c.Engine.PaymentLookbackMonths,
		CurrentMonthCutoffDay:  c.Engine.CurrentMonthCutoffDay,
		EffectiveCutoffDay:     c.Engine.EffectiveCutoffDay,
	}
}

func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be in [1, 65535], got %d", cfg.HTTP.Port)
	}
	if cfg.DB.Path == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if cfg.Engine.RecentExhaustionDays <= 0 {
		return fmt.Errorf("ENGINE_RECENT_EXHAUSTION_DAYS must be positive")
	}
	if cfg.Engine.PaymentLookbackMonths <= 0 {
		return fmt.Errorf("ENGINE_PAYMENT_LOOKBACK_MONTHS must be positive")
	}
	if err := cfg.EngineOptions().Validate(); err != nil {
		return err
	}
	if cfg.Sweep.Enabled && cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive when the sweep is enabled")
	}
	return nil
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
