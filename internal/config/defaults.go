package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			Environment: "dev",
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			EventsPath: "/slack/events",
		},
		Slack: SlackConfig{
			Reaction:    "eyes",
			DebugUpload: false,
		},
		Gemini: GeminiConfig{
			APIBase: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-2.0-flash-exp",
		},
		Dedup: DedupConfig{
			DBPath:     "~/.pixbot/dedup.db",
			TTLSeconds: 300,
			CacheSize:  4096,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
