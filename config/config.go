package config

import (
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type IdentityConfig struct {
	TokenURL     string
	ClientId     string
	ClientSecret string
}

type Config struct {
	Environment    string
	ServerURL      string
	LogsDirectory  string
	DatabasePath   string
	GpsdAddress    string
	ConnectTimeout time.Duration
	Identity       *IdentityConfig
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	serverURL := os.Getenv("DEV_SERVER_URL")
	if env == "production" {
		serverURL = os.Getenv("PROD_SERVER_URL")
	}

	return &Config{
		Environment:    env,
		ServerURL:      serverURL,
		LogsDirectory:  os.Getenv("LOGS_DIRECTORY"),
		DatabasePath:   os.Getenv("DATABASE_PATH"),
		GpsdAddress:    os.Getenv("GPSD_ADDRESS"),
		ConnectTimeout: connectTimeout(),
		Identity: &IdentityConfig{
			TokenURL:     os.Getenv("IDENTITY_TOKEN_URL"),
			ClientId:     os.Getenv("IDENTITY_CLIENT_ID"),
			ClientSecret: os.Getenv("IDENTITY_CLIENT_SECRET"),
		},
	}
}

func connectTimeout() time.Duration {
	seconds, err := strconv.Atoi(os.Getenv("CONNECT_TIMEOUT_SECONDS"))
	if err != nil || seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// APIURL returns the REST base path derived from the server URL.
func (c *Config) APIURL() string {
	return strings.TrimSuffix(c.ServerURL, "/") + "/api"
}

// RealtimeURL returns the websocket endpoint derived from the same server URL.
func (c *Config) RealtimeURL() string {
	url := strings.TrimSuffix(c.ServerURL, "/")
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}
