package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     "5432",
		User:     "tunesync",
		Password: "s3cret",
		DBName:   "rooms",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal user=tunesync password=s3cret dbname=rooms port=5432 sslmode=require",
		cfg.GetDSN())
}

func TestDefaultDSNDisablesSSL(t *testing.T) {
	assert.Contains(t, Default().Database.GetDSN(), "sslmode=disable")
}
