package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Pricing.CoinGecko.APIKey)
	redact(&out.Store.DSN)
	redact(&out.Store.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Fresh slices and maps so the copy cannot alias the original.
	out.Exchanges.Enabled = append([]string(nil), cfg.Exchanges.Enabled...)
	out.Exchanges.Scope = copyMap(cfg.Exchanges.Scope)
	out.Pricing.Rename = copyMap(cfg.Pricing.Rename)
	out.Pricing.Fiat = copyMap(cfg.Pricing.Fiat)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
