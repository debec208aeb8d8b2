package db

import (
	"strings"
	"testing"

	"LiveFM/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.internal",
		DBPort:     "3307",
		DBUser:     "live",
		DBPassword: "p@ss:word",
		DBName:     "livefm",
	}

	dsn := DSN(cfg)
	for _, want := range []string{
		"live:p@ss:word@tcp(db.internal:3307)/livefm",
		"parseTime=true",
		"charset=utf8mb4",
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
