package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	envDBPath         = "FINANCE_DB_PATH"
	envSampleFallback = "FINANCE_SAMPLE_FALLBACK"
	envOCRDPI         = "FINANCE_OCR_DPI"
	envOCRLang        = "FINANCE_OCR_LANG"
	envLogLevel       = "FINANCE_LOG_LEVEL"
	envLogFormat      = "FINANCE_LOG_FORMAT"
	envHTTPAddr       = "FINANCE_HTTP_ADDR"

	defaultDBPath   = "finance.db"
	defaultOCRDPI   = 300
	defaultOCRLang  = "eng"
	defaultLogLevel = "info"
	defaultLogFmt   = "console"
	defaultHTTPAddr = ":8080"
)

type Config struct {
	DBPath string
	// SampleFallback makes parsers return the fixed sample list instead of
	// an error when a statement yields no transactions.
	SampleFallback bool
	OCRDPI         int
	OCRLang        string
	LogLevel       string
	// LogFormat is "console" or "json".
	LogFormat string
	HTTPAddr  string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:    getenv(envDBPath, defaultDBPath),
		OCRDPI:    defaultOCRDPI,
		OCRLang:   getenv(envOCRLang, defaultOCRLang),
		LogLevel:  getenv(envLogLevel, defaultLogLevel),
		LogFormat: getenv(envLogFormat, defaultLogFmt),
		HTTPAddr:  getenv(envHTTPAddr, defaultHTTPAddr),
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("%s: expected console or json, got %q", envLogFormat, cfg.LogFormat)
	}

	if v := os.Getenv(envSampleFallback); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid boolean %q", envSampleFallback, v)
		}
		cfg.SampleFallback = b
	}

	if v := os.Getenv(envOCRDPI); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil || dpi < 72 || dpi > 1200 {
			return nil, fmt.Errorf("%s: expected an integer between 72 and 1200, got %q", envOCRDPI, v)
		}
		cfg.OCRDPI = dpi
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
