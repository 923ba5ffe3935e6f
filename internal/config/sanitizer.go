package config

import "encoding/json"

// redactionValue replaces a sensitive field's value in a sanitized copy of
// the config, e.g. before logging it at startup.
const redactionValue = "***REDACTED***"

// Sanitize returns a deep copy of cfg with every credential-bearing field
// redacted, safe to pass to a structured logger.
func Sanitize(cfg *Config) *Config {
	sanitized := deepCopy(cfg)
	sanitized.Store.PostgresDSN = redactionValue
	sanitized.Lock.RedisPassword = redactionValue
	return sanitized
}

func deepCopy(cfg *Config) *Config {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(raw, &out); err != nil {
		return cfg
	}
	return &out
}
