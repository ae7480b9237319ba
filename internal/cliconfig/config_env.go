package cliconfig

import "os"

// EnvPrefix prefixes every tashkil environment variable.
const EnvPrefix = "TASHKIL_"

// ApplyEnvConfig applies configuration from environment variables.
// It respects flags that have been explicitly set (changed map).
// The unprefixed names of earlier deployments (BATCH_SIZE, BATCH_WAIT_MS,
// MAX_LENGTH, PORT, MAX_GPU_CONCURRENCY) are honored but lose to their
// TASHKIL_* counterparts.
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := applyLegacyEnv(s, cfg); err != nil {
		return err
	}

	s.setString("addr", env("ADDR"), &cfg.Addr)
	s.setString("device", env("DEVICE"), &cfg.Device)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	if err := s.setDuration("shutdown-timeout", env("SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	s.setBoolFromString("watch-config", env("WATCH_CONFIG"), &cfg.WatchConfig)

	if err := s.setIntFromString("batch-size", env("BATCH_SIZE"), &cfg.BatchSize); err != nil {
		return err
	}
	if err := s.setDuration("batch-wait", env("BATCH_WAIT"), &cfg.BatchWait); err != nil {
		return err
	}
	if err := s.setIntFromString("max-length", env("MAX_LENGTH"), &cfg.MaxLength); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-size", env("QUEUE_SIZE"), &cfg.QueueSize); err != nil {
		return err
	}
	if err := s.setDuration("dispatch-timeout", env("DISPATCH_TIMEOUT"), &cfg.DispatchTimeout); err != nil {
		return err
	}

	s.setString("processor", env("PROCESSOR"), &cfg.Processor)
	s.setString("backend-url", env("BACKEND_URL"), &cfg.BackendURL)
	s.setString("auth-key", env("AUTH_KEY"), &cfg.AuthKey)
	if err := s.setDuration("backend-timeout", env("BACKEND_TIMEOUT"), &cfg.BackendTimeout); err != nil {
		return err
	}
	if err := s.setDuration("ready-timeout", env("READY_TIMEOUT"), &cfg.ReadyTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("max-concurrency", env("MAX_CONCURRENCY"), &cfg.MaxConcurrency); err != nil {
		return err
	}

	if err := s.setFloatFromString("rate-limit", env("RATE_LIMIT"), &cfg.RateLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("rate-burst", env("RATE_BURST"), &cfg.RateBurst); err != nil {
		return err
	}

	s.setString("nats-url", env("NATS_URL"), &cfg.NATSURL)
	s.setString("nats-subject", env("NATS_SUBJECT"), &cfg.NATSSubject)
	s.setString("nats-queue", env("NATS_QUEUE"), &cfg.NATSQueue)

	return nil
}

func applyLegacyEnv(s *configSetter, cfg *Config) error {
	if err := s.setIntFromString("batch-size", os.Getenv("BATCH_SIZE"), &cfg.BatchSize); err != nil {
		return err
	}
	if err := s.setMillisFromString("batch-wait", os.Getenv("BATCH_WAIT_MS"), &cfg.BatchWait); err != nil {
		return err
	}
	if err := s.setIntFromString("max-length", os.Getenv("MAX_LENGTH"), &cfg.MaxLength); err != nil {
		return err
	}
	if err := s.setIntFromString("max-concurrency", os.Getenv("MAX_GPU_CONCURRENCY"), &cfg.MaxConcurrency); err != nil {
		return err
	}
	if port := os.Getenv("PORT"); port != "" {
		s.setString("addr", ":"+port, &cfg.Addr)
	}
	return nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}
