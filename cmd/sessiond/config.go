package main

import (
	"os"
	"strconv"
	"strings"
)

// Config is the settings an embedder would otherwise wire in code,
// following the teacher's XMPP_* environment-variable convention
// (SESSIONCORE_* here).
type Config struct {
	SecretName  string
	DeviceName  string
	Password    string
	Storage     string
	StorageDSN  string
	StoragePath string
	MongoDBName string
}

func loadConfig() Config {
	cfg := Config{}
	cfg.SecretName = getenv("SESSIONCORE_SECRET_NAME", "demo-user")
	cfg.DeviceName = getenv("SESSIONCORE_DEVICE_NAME", "sessiond")
	cfg.Password = getenv("SESSIONCORE_PASSWORD", "change-me")
	cfg.Storage = strings.ToLower(getenv("SESSIONCORE_STORAGE", "memory"))
	cfg.StorageDSN = os.Getenv("SESSIONCORE_STORAGE_DSN")
	cfg.StoragePath = getenv("SESSIONCORE_STORAGE_PATH", "/var/lib/sessioncore/data")
	cfg.MongoDBName = getenv("SESSIONCORE_MONGO_DB", "sessioncore")
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
