package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile        string
	AdminAddr     string
	APIAddr       string
	UploadsPath   string
	DirectoryURL  string
	DirectoryKey  string
	TokenExpiry   time.Duration
	MaxUploadSize int64

	// Optional web-push credentials. Push delivery is disabled when empty.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDContact    string
}

func Load(cliMode bool) (*Config, error) {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	var maxUpload int64
	if _, err := fmt.Sscanf(getEnv("MAX_UPLOAD_SIZE", "33554432"), "%d", &maxUpload); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE must be a number of bytes: %w", err)
	}

	cfg := &Config{
		DBFile:          getEnv("GUTORKA_DB", "gutorka.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		DirectoryURL:    os.Getenv("DIRECTORY_URL"),
		DirectoryKey:    os.Getenv("DIRECTORY_KEY"),
		TokenExpiry:     tokenExpiry,
		MaxUploadSize:   maxUpload,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDContact:    os.Getenv("VAPID_CONTACT"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.DirectoryURL == "" && !cliMode {
		return fmt.Errorf("DIRECTORY_URL is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
