package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Gateway struct {
		TmnCode    string `yaml:"tmn_code"`
		SecretKey  string `yaml:"secret_key"`
		PayURL     string `yaml:"pay_url"`
		ReturnURL  string `yaml:"return_url"`
		TTLMinutes int    `yaml:"ttl_minutes"`
	} `yaml:"gateway"`
	Ledger struct {
		FeeBps int64 `yaml:"fee_bps"`
	} `yaml:"ledger"`
	Pricing struct {
		BaseFareVND int64 `yaml:"base_fare_vnd"`
		PerKMVND    int64 `yaml:"per_km_vnd"`
		PerKGVND    int64 `yaml:"per_kg_vnd"`
	} `yaml:"pricing"`
	Worker struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		NotifyBatch     int `yaml:"notify_batch"`
	} `yaml:"worker"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Gateway.TmnCode == "" || cfg.Gateway.SecretKey == "" || cfg.Gateway.PayURL == "" {
		return nil, errors.New("gateway config is incomplete")
	}
	if cfg.Ledger.FeeBps < 0 || cfg.Ledger.FeeBps > 10000 {
		return nil, errors.New("ledger.fee_bps must be within 0..10000")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("GATEWAY_TMN_CODE"); v != "" {
		cfg.Gateway.TmnCode = v
	}
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := os.Getenv("GATEWAY_PAY_URL"); v != "" {
		cfg.Gateway.PayURL = v
	}
	if v := os.Getenv("GATEWAY_RETURN_URL"); v != "" {
		cfg.Gateway.ReturnURL = v
	}
	if v := os.Getenv("GATEWAY_TTL_MINUTES"); v != "" {
		cfg.Gateway.TTLMinutes = atoiOr(cfg.Gateway.TTLMinutes, v)
	}
	if v := os.Getenv("LEDGER_FEE_BPS"); v != "" {
		cfg.Ledger.FeeBps = atoi64Or(cfg.Ledger.FeeBps, v)
	}
	if v := os.Getenv("PRICING_BASE_FARE_VND"); v != "" {
		cfg.Pricing.BaseFareVND = atoi64Or(cfg.Pricing.BaseFareVND, v)
	}
	if v := os.Getenv("PRICING_PER_KM_VND"); v != "" {
		cfg.Pricing.PerKMVND = atoi64Or(cfg.Pricing.PerKMVND, v)
	}
	if v := os.Getenv("PRICING_PER_KG_VND"); v != "" {
		cfg.Pricing.PerKGVND = atoi64Or(cfg.Pricing.PerKGVND, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_NOTIFY_BATCH"); v != "" {
		cfg.Worker.NotifyBatch = atoiOr(cfg.Worker.NotifyBatch, v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.TTLMinutes <= 0 {
		cfg.Gateway.TTLMinutes = 15
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	if cfg.Worker.NotifyBatch <= 0 {
		cfg.Worker.NotifyBatch = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
