package config

// DefaultOrganizationID is used when a turn carries no tenant id.
const DefaultOrganizationID = "a83e229a-7bda-4b7c-8969-4201c1382068"

const (
	DefaultServiceName = "relaybot"
	DefaultPort        = 3978
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			ServiceName:        DefaultServiceName,
			LogLevel:           "info",
			TurnTimeoutSeconds: 90,
		},
		Primary: PrimaryConfig{
			Channel:        "msteams",
			TimeoutSeconds: 30,
		},
		Fallback: FallbackConfig{
			TimeoutSeconds: 30,
		},
		Link: LinkConfig{
			Domain:                "http://localhost:3979",
			TTLMinutes:            15,
			DefaultOrganizationID: DefaultOrganizationID,
		},
		Sessions: SessionsConfig{
			Backend:              "memory",
			TTLMinutes:           24 * 60,
			MaxEntries:           10000,
			SweepIntervalSeconds: 60,
			DBPath:               "~/.relaybot/sessions.db",
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "relaybot:session:",
			},
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultPort,
			MaxBodyBytes: 1 << 20,
		},
		Prompt: PromptConfig{
			LoadingMessages: defaultLoadingMessages(),
			Tips:            defaultTips(),
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

func defaultLoadingMessages() []string {
	return []string{
		"🔍 Analyzing your request...",
		"🔍 Working on it...",
		"🔍 Generating response...",
		"🔍 Consulting the knowledge base...",
		"🔍 Gathering data...",
	}
}

func defaultTips() []string {
	return []string{
		"💡 Tip: Ask me to summarize a Jira ticket by pasting its link.",
		"💡 Tip: Paste a SharePoint link and ask for the key points of the document.",
		"💡 Tip: Ask 'What can you do?' to see what I can help with.",
		"💡 Tip: Ask me to turn information into a PDF.",
	}
}
