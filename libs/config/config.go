package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	once sync.Once
	v    *viper.Viper
)

// env returns the process-wide viper instance. Keys are plain environment variable names
// (DATABASE_URL, KAFKA_BROKERS, ...), resolved on every lookup.
func env() *viper.Viper {
	once.Do(func() {
		v = viper.New()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	})
	return v
}

// LoadDotEnv reads KEY=VALUE files into the process environment for local runs. Variables that
// are already set win, and missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func lookup(key string) string {
	return strings.TrimSpace(env().GetString(key))
}

func String(key, fallback string) string {
	s := lookup(key)
	if s == "" {
		return fallback
	}
	return s
}

func RequiredString(key string) (string, error) {
	s := lookup(key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func Port(key, fallback string) (string, error) {
	s := String(key, fallback)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, s)
	}
	return s, nil
}

// Int returns fallback when the variable is unset and an error when it is set but not an integer.
func Int(key string, fallback int) (int, error) {
	s := lookup(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, s)
	}
	return n, nil
}

func Bool(key string, fallback bool) bool {
	s := lookup(key)
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// Duration accepts Go duration strings ("30s", "5m"). A bare integer is read as seconds.
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	s := lookup(key)
	if s == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (got %q)", key, s)
	}
	return d, nil
}

// List splits a comma separated variable and drops empty entries.
func List(key string) []string {
	var out []string
	for _, part := range strings.Split(lookup(key), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
