// Package config reads service configuration from the environment.
//
// Loading never fails. Values are checked where they are used, so a missing
// secret surfaces as a *MissingError from the operation that needed it
// instead of stopping the process at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	Port               = "PORT"
	BaseURL            = "BASE_URL"
	LogLevel           = "LOG_LEVEL"
	ChartbeatAPIKey    = "CHARTBEAT_API_KEY"
	ChartbeatHost      = "CHARTBEAT_HOST"
	SummariserProvider = "SUMMARISER_PROVIDER"
	HFAPIKey           = "HF_API_KEY"
	HFModelURL         = "HF_MODEL_URL"
	OpenAIAPIKey       = "OPENAI_API_KEY"
	OpenAIBaseURL      = "OPENAI_BASE_URL"
	OpenAIModel        = "OPENAI_MODEL"
	AnthropicAPIKey    = "ANTHROPIC_API_KEY"
	AnthropicModel     = "ANTHROPIC_MODEL"
	SessionSecret      = "SESSION_SECRET"
	SubscriptionSecret = "SUBSCRIPTION_SECRET"
	StorageBackend     = "STORAGE_BACKEND"
	DraftBucket        = "DRAFT_BUCKET"
	PublishedBucket    = "PUBLISHED_BUCKET"
	LocalStorage       = "LOCAL_STORAGE"
	SubscribersTable   = "SUBSCRIBERS_TABLE"
	AdminsTable        = "ADMINS_TABLE"
	AdminEmail         = "ADMIN_EMAIL"
	AdminPasswordHash  = "ADMIN_PASSWORD_HASH"
	AWSRegion          = "AWS_REGION"
	AWSEndpointURL     = "AWS_ENDPOINT_URL"
	MailProvider       = "MAIL_PROVIDER"
	MailFrom           = "MAIL_FROM"
	SMTPHost           = "SMTP_HOST"
	SMTPPort           = "SMTP_PORT"
	SMTPUser           = "SMTP_USER"
	AppPassword        = "APP_PASSWORD"
	BrevoAPIKey        = "BREVO_API_KEY"
	GoogleCredentials  = "GOOGLE_CREDENTIALS_JSON"
	CORSOriginSuffix   = "CORS_ORIGIN_SUFFIX"
	RunToken           = "RUN_TOKEN"
)

var defaults = map[string]string{
	Port:               "8080",
	BaseURL:            "http://localhost:8080",
	LogLevel:           "info",
	ChartbeatHost:      "news.sky.com",
	SummariserProvider: "huggingface",
	HFModelURL:         "https://router.huggingface.co/hf-inference/models/sshleifer/distilbart-cnn-12-6",
	OpenAIModel:        "gpt-4o-mini",
	AnthropicModel:     "claude-3-5-haiku-latest",
	StorageBackend:     "s3",
	AdminsTable:        "admins",
	AWSRegion:          "eu-west-2",
	MailProvider:       "smtp",
	SMTPHost:           "smtp.gmail.com",
	SMTPPort:           "465",
	CORSOriginSuffix:   ".cloudfront.net",
}

// Config is an immutable snapshot of the environment taken at startup.
type Config struct {
	values map[string]string
}

// Load snapshots the environment. When envFile names an existing file its
// entries are loaded first without overriding variables already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}
	return FromMap(environ()), nil
}

// FromMap builds a Config from explicit values, applying defaults.
func FromMap(m map[string]string) *Config {
	values := make(map[string]string, len(defaults)+len(m))
	for k, v := range defaults {
		values[k] = v
	}
	for k, v := range m {
		if v = strings.TrimSpace(v); v != "" {
			values[k] = v
		}
	}
	return &Config{values: values}
}

// Get returns the value of name, or "" when unset.
func (c *Config) Get(name string) string {
	return c.values[name]
}

// Require returns a *MissingError listing every name that has no value.
func (c *Config) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if c.values[n] == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}

// MissingError reports configuration that an operation needed but did not have.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing configuration: " + strings.Join(e.Vars, ", ")
}

// Missing returns a *MissingError for the given variable names.
func Missing(names ...string) error {
	return &MissingError{Vars: names}
}

// IsMissing reports whether err is a configuration error.
func IsMissing(err error) bool {
	var m *MissingError
	return errors.As(err, &m)
}

func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
