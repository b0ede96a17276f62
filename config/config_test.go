package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ServerURL:        "http://localhost:8080",
		JWTSigningKey:    "secret",
		MongoURI:         "mongodb://localhost:27017",
		DBName:           "stat_tracker",
		HabitsTable:      "habits",
		CompletionsTable: "completions",
		UsersTable:       "users",
	}
}

func TestValidateComplete(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.HabitsTable = ""
	cfg.UsersTable = ""

	err := cfg.Validate()
	require.Error(t, err)

	// Every missing field is reported at once.
	assert.Contains(t, err.Error(), "HABITS_TABLE_NAME")
	assert.Contains(t, err.Error(), "USERS_TABLE_NAME")
	assert.NotContains(t, err.Error(), "COMPLETIONS_TABLE_NAME")
}

func TestValidateOptionalFields(t *testing.T) {
	// Redis and RabbitMQ wiring is optional; their absence is not an error.
	cfg := validConfig()
	cfg.RedisURL = ""
	cfg.RabbitMQURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaultsNotificationsTable(t *testing.T) {
	t.Setenv("NOTIFICATIONS_TABLE_NAME", "")

	cfg := Load()
	assert.Equal(t, "notifications", cfg.NotificationsTable)
}
