package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Gateway selection: "razorpay" or "cashfree".
	PaymentProvider string `mapstructure:"PAYMENT_PROVIDER"`

	RazorpayKeyID         string `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`

	CashfreeClientID      string `mapstructure:"CASHFREE_CLIENT_ID"`
	CashfreeClientSecret  string `mapstructure:"CASHFREE_CLIENT_SECRET"`
	CashfreeWebhookSecret string `mapstructure:"CASHFREE_WEBHOOK_SECRET"`
	CashfreeBaseURL       string `mapstructure:"CASHFREE_BASE_URL"`

	// Fee schedule. Percentages by consultation type, clamp bounds and GST
	// rate applied on the platform fee. Amounts are minor units (paisa).
	FeePercentInPerson float64 `mapstructure:"FEE_PERCENT_IN_PERSON"`
	FeePercentVideo    float64 `mapstructure:"FEE_PERCENT_VIDEO"`
	FeePercentHome     float64 `mapstructure:"FEE_PERCENT_HOME_VISIT"`
	FeeMin             int64   `mapstructure:"FEE_MIN"`
	FeeMax             int64   `mapstructure:"FEE_MAX"`
	GSTRate            float64 `mapstructure:"GST_RATE"`

	// Credit bonus (minor units) granted when a doctor or hospital cancels.
	DoctorCancelBonus int64 `mapstructure:"DOCTOR_CANCEL_BONUS"`

	// Pending orders older than this many minutes are superseded.
	OrderExpiryMinutes int `mapstructure:"ORDER_EXPIRY_MINUTES"`

	// Interval in seconds for the confirmation recovery sweep.
	SweepIntervalSeconds int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("PAYMENT_PROVIDER", "razorpay")
	v.SetDefault("CASHFREE_BASE_URL", "https://sandbox.cashfree.com/pg")
	v.SetDefault("FEE_PERCENT_IN_PERSON", 0)
	v.SetDefault("FEE_PERCENT_VIDEO", 0)
	v.SetDefault("FEE_PERCENT_HOME_VISIT", 0)
	v.SetDefault("FEE_MIN", 0)
	v.SetDefault("FEE_MAX", 0)
	v.SetDefault("GST_RATE", 18)
	v.SetDefault("DOCTOR_CANCEL_BONUS", 5000)
	v.SetDefault("ORDER_EXPIRY_MINUTES", 30)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "JWT_SIGNING_KEY", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"PAYMENT_PROVIDER",
		"RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET", "RAZORPAY_WEBHOOK_SECRET",
		"CASHFREE_CLIENT_ID", "CASHFREE_CLIENT_SECRET", "CASHFREE_WEBHOOK_SECRET",
		"CASHFREE_BASE_URL",
		"FEE_PERCENT_IN_PERSON", "FEE_PERCENT_VIDEO", "FEE_PERCENT_HOME_VISIT",
		"FEE_MIN", "FEE_MAX", "GST_RATE", "DOCTOR_CANCEL_BONUS",
		"ORDER_EXPIRY_MINUTES", "SWEEP_INTERVAL_SECONDS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Gateway credentials
// for the selected provider are required outside development, as is a JWT
// signing key.
func (c *Config) Validate() error {
	switch c.PaymentProvider {
	case "razorpay":
		if !c.IsDev() && (c.RazorpayKeyID == "" || c.RazorpayKeySecret == "") {
			return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required when PAYMENT_PROVIDER is \"razorpay\"")
		}
	case "cashfree":
		if !c.IsDev() && (c.CashfreeClientID == "" || c.CashfreeClientSecret == "") {
			return fmt.Errorf("CASHFREE_CLIENT_ID and CASHFREE_CLIENT_SECRET are required when PAYMENT_PROVIDER is \"cashfree\"")
		}
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be \"razorpay\" or \"cashfree\", got %q", c.PaymentProvider)
	}

	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development")
	}

	if c.FeeMax > 0 && c.FeeMin > c.FeeMax {
		return fmt.Errorf("FEE_MIN (%d) must not exceed FEE_MAX (%d)", c.FeeMin, c.FeeMax)
	}
	if c.GSTRate < 0 || c.GSTRate > 100 {
		return fmt.Errorf("GST_RATE must be between 0 and 100, got %v", c.GSTRate)
	}
	if c.OrderExpiryMinutes <= 0 {
		return fmt.Errorf("ORDER_EXPIRY_MINUTES must be positive, got %d", c.OrderExpiryMinutes)
	}

	return nil
}
