package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port           int
	DBPath         string
	ConnectTimeout int // seconds, client dial timeout
	WriteTimeout   int // seconds, per-frame write deadline
	MetricsAddr    string
}

func Load() *Config {
	cfg := &Config{
		Port:           9001,
		DBPath:         "admissionchat.db",
		ConnectTimeout: 5,
		WriteTimeout:   30,
	}

	if portStr := os.Getenv("CHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("CHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("CHAT_CONNECT_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ConnectTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("CHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if addr := os.Getenv("CHAT_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	return cfg
}
