// Package config holds the settings shared by the command line tools.
// Environment variables supply defaults and flags override them.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Image    string
	Blocks   uint32
	LogLevel string
	Sync     bool
	Codec    string
}

// Load reads the environment
func Load() *Config {
	return &Config{
		Image:    getEnv("XKFS_IMAGE", "fs.img"),
		Blocks:   getEnvUint32("XKFS_BLOCKS", 4096),
		LogLevel: getEnv("XKFS_LOG_LEVEL", "info"),
		Sync:     getEnvBool("XKFS_SYNC", true),
		Codec:    getEnv("XKFS_CODEC", "zstd"),
	}
}

// RegisterFlags binds the shared flags to c, keeping the loaded values as defaults
func (c *Config) RegisterFlags(fl *flag.FlagSet) {
	fl.StringVar(&c.Image, "image", c.Image, "disk image file (XKFS_IMAGE)")
	fl.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error (XKFS_LOG_LEVEL)")
	fl.BoolVar(&c.Sync, "sync", c.Sync, "flush every block write to stable storage; the log is only crash safe with it on (XKFS_SYNC)")
}

// SetupLogging applies the configured log level
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 32); err == nil {
			return uint32(i)
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		v := strings.ToLower(value)
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}
