package config

const (
	// DefaultMetricsAddress is the listen address of the /metrics endpoint.
	DefaultMetricsAddress = ":9108"

	// DefaultTable is the entity table used by the postgres store.
	DefaultTable = "queue_entities"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			GraceWindowSeconds:        300,
			MinRewriteIntervalSeconds: 30,
			FinalizeMode:              "timeout",
			IdentityHash:              "md5",
			ArrivalBucketSeconds:      60,
			Timezone:                  "Local",
		},
		Storage: StorageConfig{
			Driver:               "memory",
			Table:                DefaultTable,
			CleanupRetentionDays: 7,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds:   15,
			SweepIntervalSeconds:  60,
			PurgeIntervalSeconds:  3600,
			RequestTimeoutSeconds: 20,
			WorkingHours: WorkingHours{
				Start: "06:00",
				End:   "23:00",
			},
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: DefaultMetricsAddress,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
