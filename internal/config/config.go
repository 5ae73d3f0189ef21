// README: Config loader with env defaults for HTTP, storage, brokers, auth, fares and plans.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CreditPlan struct {
	Code         string
	Trips        int
	ValidityDays int
	Price        decimal.Decimal
}

type SubscriptionPlan struct {
	Code  string
	Days  int
	Price decimal.Decimal
}

type PaymentConfig struct {
	StripeKey         string
	Currency          string
	CreditPlans       []CreditPlan
	SubscriptionPlans []SubscriptionPlan
}

type TripConfig struct {
	Fare       decimal.Decimal
	RequestTTL time.Duration
	ExpiryTick time.Duration
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	DB struct {
		DSN       string
		TxRetries int
	}
	Redis struct {
		Addr     string
		Password string
	}
	Log struct {
		Level  string
		Format string
	}
	Auth struct {
		Mode      string
		JWTSecret string
	}
	Firebase struct {
		ProjectID   string
		Credentials string
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	AMQP struct {
		URL      string
		Exchange string
	}
	Notify struct {
		Buffer  int
		Workers int
		Fanout  int
	}
	Trip       TripConfig
	Payment    PaymentConfig
	TrialTrips int
}

var defaultCreditPlans = []CreditPlan{
	{Code: "forfait-10", Trips: 10, ValidityDays: 30, Price: decimal.NewFromInt(9000)},
	{Code: "forfait-30", Trips: 30, ValidityDays: 30, Price: decimal.NewFromInt(25000)},
}

var defaultSubscriptionPlans = []SubscriptionPlan{
	{Code: "weekly", Days: 7, Price: decimal.NewFromInt(4000)},
	{Code: "monthly", Days: 30, Price: decimal.NewFromInt(15000)},
}

// Load reads the environment. Every malformed value is reported, joined into one error.
func Load() (Config, error) {
	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("ZEMI_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("ZEMI_SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.DB.DSN = os.Getenv("ZEMI_DB_DSN")
	cfg.DB.TxRetries = envOrDefaultInt("ZEMI_TX_RETRIES", 3, &errs)
	cfg.Redis.Addr = os.Getenv("ZEMI_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("ZEMI_REDIS_PASSWORD")
	cfg.Log.Level = strings.ToLower(envOrDefault("ZEMI_LOG_LEVEL", "info"))
	cfg.Log.Format = strings.ToLower(envOrDefault("ZEMI_LOG_FORMAT", "json"))

	cfg.Auth.Mode = strings.ToLower(envOrDefault("ZEMI_AUTH_MODE", "jwt"))
	cfg.Auth.JWTSecret = os.Getenv("ZEMI_JWT_SECRET")
	cfg.Firebase.ProjectID = os.Getenv("ZEMI_FIREBASE_PROJECT_ID")
	cfg.Firebase.Credentials = os.Getenv("ZEMI_FIREBASE_CREDENTIALS")

	if brokers := os.Getenv("ZEMI_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	cfg.Kafka.Topic = envOrDefault("ZEMI_KAFKA_TOPIC", "trip-events")
	cfg.AMQP.URL = os.Getenv("ZEMI_AMQP_URL")
	cfg.AMQP.Exchange = envOrDefault("ZEMI_AMQP_EXCHANGE", "trip_topic")
	cfg.Notify.Buffer = envOrDefaultInt("ZEMI_NOTIFY_BUFFER", 256, &errs)
	cfg.Notify.Workers = envOrDefaultInt("ZEMI_NOTIFY_WORKERS", 2, &errs)
	cfg.Notify.Fanout = envOrDefaultInt("ZEMI_NOTIFY_FANOUT", 10, &errs)

	cfg.Trip.Fare = envOrDefaultDecimal("ZEMI_TRIP_FARE", decimal.NewFromInt(1000), &errs)
	cfg.Trip.RequestTTL = envOrDefaultDuration("ZEMI_REQUEST_TTL", 15*time.Minute, &errs)
	cfg.Trip.ExpiryTick = envOrDefaultDuration("ZEMI_EXPIRY_TICK", 30*time.Second, &errs)
	cfg.TrialTrips = envOrDefaultInt("ZEMI_TRIAL_TRIPS", 3, &errs)

	cfg.Payment.StripeKey = os.Getenv("ZEMI_STRIPE_KEY")
	cfg.Payment.Currency = strings.ToUpper(envOrDefault("ZEMI_CURRENCY", "XOF"))
	cfg.Payment.CreditPlans = defaultCreditPlans
	if v := os.Getenv("ZEMI_CREDIT_PLANS"); v != "" {
		plans, err := ParseCreditPlans(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ZEMI_CREDIT_PLANS: %w", err))
		} else {
			cfg.Payment.CreditPlans = plans
		}
	}
	cfg.Payment.SubscriptionPlans = defaultSubscriptionPlans
	if v := os.Getenv("ZEMI_SUBSCRIPTION_PLANS"); v != "" {
		plans, err := ParseSubscriptionPlans(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ZEMI_SUBSCRIPTION_PLANS: %w", err))
		} else {
			cfg.Payment.SubscriptionPlans = plans
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	if !c.Trip.Fare.IsPositive() {
		errs = append(errs, errors.New("ZEMI_TRIP_FARE must be positive"))
	}
	if c.TrialTrips < 0 {
		errs = append(errs, errors.New("ZEMI_TRIAL_TRIPS must not be negative"))
	}
	if c.Trip.RequestTTL < 0 {
		errs = append(errs, errors.New("ZEMI_REQUEST_TTL must not be negative"))
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("ZEMI_JWT_SECRET is required when ZEMI_AUTH_MODE=jwt"))
		}
	case "firebase":
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("ZEMI_FIREBASE_PROJECT_ID is required when ZEMI_AUTH_MODE=firebase"))
		}
	default:
		errs = append(errs, fmt.Errorf("ZEMI_AUTH_MODE %q is not one of jwt, firebase", c.Auth.Mode))
	}
	return errs
}

// ParseCreditPlans reads "code:trips:days:price" entries separated by commas.
func ParseCreditPlans(v string) ([]CreditPlan, error) {
	var plans []CreditPlan
	for _, entry := range splitAndTrim(v) {
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("entry %q: want code:trips:days:price", entry)
		}
		trips, err1 := strconv.Atoi(parts[1])
		days, err2 := strconv.Atoi(parts[2])
		price, err3 := decimal.NewFromString(parts[3])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		if trips <= 0 || days <= 0 || !price.IsPositive() {
			return nil, fmt.Errorf("entry %q: values must be positive", entry)
		}
		plans = append(plans, CreditPlan{Code: parts[0], Trips: trips, ValidityDays: days, Price: price})
	}
	return plans, nil
}

// ParseSubscriptionPlans reads "code:days:price" entries separated by commas.
func ParseSubscriptionPlans(v string) ([]SubscriptionPlan, error) {
	var plans []SubscriptionPlan
	for _, entry := range splitAndTrim(v) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("entry %q: want code:days:price", entry)
		}
		days, err1 := strconv.Atoi(parts[1])
		price, err2 := decimal.NewFromString(parts[2])
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		if days <= 0 || !price.IsPositive() {
			return nil, fmt.Errorf("entry %q: values must be positive", entry)
		}
		plans = append(plans, SubscriptionPlan{Code: parts[0], Days: days, Price: price})
	}
	return plans, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func envOrDefaultDecimal(key string, def decimal.Decimal, errs *[]error) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitAndTrim(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
