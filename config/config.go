// Package config loads service settings and the default business rules
// from defaults, an optional .env file, an optional config file and TUTOR_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/lecture-engine/factory"
	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/payroll"
)

const EnvPrefix = "TUTOR"

type Config struct {
	Addr           string
	DBPath         string
	Env            string
	LogLevel       string
	SentryDSN      string
	Release        string
	Timezone       string
	RequestTimeout time.Duration
	CORSOrigins    []string

	// Rules are the defaults used until a rules document is stored.
	Rules factory.Rules
}

// Location resolves Timezone. "today" for lecture locking is taken there.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	limits := lectures.DefaultLimits()
	rates := payroll.DefaultRates()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.path", "./data/lectures.db")
	v.SetDefault("env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("release", "dev")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("rules.max_postponements", limits.MaxPostponements)
	v.SetDefault("rules.lecture_duration", limits.LectureDuration)
	v.SetDefault("rules.renewal_alert_threshold", limits.RenewalAlertThreshold)
	v.SetDefault("rules.rate_per_lecture", rates.RatePerLecture.String())
	v.SetDefault("rules.renewal_unit", rates.RenewalUnit.String())
	v.SetDefault("rules.tier1_threshold", rates.Tier1Threshold)
	v.SetDefault("rules.tier1_amount", rates.Tier1Amount.String())
	v.SetDefault("rules.tier2_threshold", rates.Tier2Threshold)
	v.SetDefault("rules.tier2_amount", rates.Tier2Amount.String())
	v.SetDefault("rules.competition_unit", rates.CompetitionUnit.String())
	v.SetDefault("rules.competition_winners", rates.CompetitionWinners)
}

// Load reads the configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	rules, err := rulesFrom(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:           v.GetString("http.addr"),
		DBPath:         v.GetString("db.path"),
		Env:            v.GetString("env"),
		LogLevel:       v.GetString("log.level"),
		SentryDSN:      v.GetString("sentry.dsn"),
		Release:        v.GetString("release"),
		Timezone:       v.GetString("timezone"),
		RequestTimeout: v.GetDuration("http.request_timeout"),
		CORSOrigins:    v.GetStringSlice("http.cors_origins"),
		Rules:          rules,
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func rulesFrom(v *viper.Viper) (factory.Rules, error) {
	money := func(key string) (generic.Money, error) {
		m, err := generic.ParseMoney(v.GetString(key))
		if err != nil {
			return m, fmt.Errorf("config %s: %w", key, err)
		}
		return m, nil
	}

	r := factory.Rules{
		Limits: lectures.Limits{
			MaxPostponements:      v.GetInt("rules.max_postponements"),
			LectureDuration:       v.GetDuration("rules.lecture_duration"),
			RenewalAlertThreshold: v.GetInt("rules.renewal_alert_threshold"),
		},
		Rates: payroll.Rates{
			Tier1Threshold:     v.GetInt("rules.tier1_threshold"),
			Tier2Threshold:     v.GetInt("rules.tier2_threshold"),
			CompetitionWinners: v.GetInt("rules.competition_winners"),
		},
	}

	var err error
	for key, dst := range map[string]*generic.Money{
		"rules.rate_per_lecture": &r.Rates.RatePerLecture,
		"rules.renewal_unit":     &r.Rates.RenewalUnit,
		"rules.tier1_amount":     &r.Rates.Tier1Amount,
		"rules.tier2_amount":     &r.Rates.Tier2Amount,
		"rules.competition_unit": &r.Rates.CompetitionUnit,
	} {
		if *dst, err = money(key); err != nil {
			return r, err
		}
	}

	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("config rules: %w", err)
	}
	return r, nil
}

// loadDotEnv loads path if it exists. Existing variables win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
