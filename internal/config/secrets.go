package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Broker.SecretKey)
	redact(&out.Broker.SecretPassword)
	redact(&out.LLM.OpenRouterAPIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Arena.Symbols = copyStrings(cfg.Arena.Symbols)
	out.Arena.Agents = copyStrings(cfg.Arena.Agents)
	out.Notify.Events = copyStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = copyStrings(cfg.Server.CORSOrigins)

	if cfg.Models != nil {
		out.Models = make(map[string]ModelConfig, len(cfg.Models))
		for id, m := range cfg.Models {
			redact(&m.APIKey)
			out.Models[id] = m
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
