// Package config collects every piece of environment wiring the service
// needs into one explicit struct, validated once at startup. Nothing else in
// the module reads the process environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the full configuration of the service. The Redis and RabbitMQ
// URLs are optional: leaving them empty disables the progress cache and the
// level-up notification queue respectively.
type Config struct {
	ServerURL     string
	JWTSigningKey string

	MongoURI string
	DBName   string

	HabitsTable        string
	CompletionsTable   string
	UsersTable         string
	NotificationsTable string

	RedisURL    string
	RabbitMQURL string
}

// Load reads the configuration from the process environment. Call Validate
// on the result before using it.
func Load() Config {
	cfg := Config{
		ServerURL:          os.Getenv("SERVER_URL"),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		MongoURI:           os.Getenv("MONGODB_URI"),
		DBName:             os.Getenv("DB_NAME"),
		HabitsTable:        os.Getenv("HABITS_TABLE_NAME"),
		CompletionsTable:   os.Getenv("COMPLETIONS_TABLE_NAME"),
		UsersTable:         os.Getenv("USERS_TABLE_NAME"),
		NotificationsTable: os.Getenv("NOTIFICATIONS_TABLE_NAME"),
		RedisURL:           os.Getenv("REDIS_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
	}
	if cfg.NotificationsTable == "" {
		cfg.NotificationsTable = "notifications"
	}
	return cfg
}

// Validate reports every missing required field at once so a broken
// deployment fails fast with a complete picture instead of one field at a
// time.
func (c Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"SERVER_URL", c.ServerURL},
		{"JWT_SIGNING_KEY", c.JWTSigningKey},
		{"MONGODB_URI", c.MongoURI},
		{"DB_NAME", c.DBName},
		{"HABITS_TABLE_NAME", c.HabitsTable},
		{"COMPLETIONS_TABLE_NAME", c.CompletionsTable},
		{"USERS_TABLE_NAME", c.UsersTable},
	}

	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
