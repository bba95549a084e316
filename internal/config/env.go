package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR references
// inside a config string value.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:-(.*?))?\}|\$([A-Z_][A-Z0-9_]*)`)

// expandEnvVars resolves environment variable references in s, applying
// the ${VAR:-default} fallback when VAR is unset or empty.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if name == "" {
			name = groups[4]
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return fallback
	})
}

// expandTree walks a decoded YAML value, expanding env vars in every
// string leaf. Used after unmarshal so api_key: ${GEMINI_API_KEY} style
// references resolve regardless of where they sit in the document.
func expandTree(v any) any {
	switch t := v.(type) {
	case string:
		return expandEnvVars(t)
	case map[string]any:
		for k, val := range t {
			t[k] = expandTree(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = expandTree(val)
		}
		return t
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local (highest priority) then .env, leaving
// any variable already set in the process environment untouched.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}
