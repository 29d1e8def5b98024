package config_test

import (
	"strings"
	"testing"

	"tickfeed/config"
)

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		DBName:   "tickfeed",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	dsn := cfg.DSN("dev")

	want := "host=localhost port=5432 user=postgres password=secret dbname=tickfeed sslmode=disable TimeZone=UTC"
	if dsn != want {
		t.Errorf("unexpected DSN:\n got: %s\nwant: %s", dsn, want)
	}
}

func TestPostgresDSNNoTimeZone(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:    "db",
		Port:    5432,
		User:    "u",
		DBName:  "d",
		SSLMode: "require",
	}

	if strings.Contains(cfg.DSN("dev"), "TimeZone") {
		t.Error("DSN should omit TimeZone when unset")
	}
}
