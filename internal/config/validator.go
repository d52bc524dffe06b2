package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateDispatch(cfg.Dispatch); err != nil {
		errs = append(errs, err)
	}

	if err := validateInvoker(cfg.Invoker); err != nil {
		errs = append(errs, err)
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
		errs = append(errs, err)
	}

	if err := validateReplay(cfg.Replay); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type: %s", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "consumer group id is required",
		}
	}

	return nil
}

func validateDispatch(cfg DispatchConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "dispatch.max_attempts",
			Message: "max attempts must not be negative",
		}
	}

	if cfg.Retry.Multiplier < 0 {
		return &ValidationError{
			Field:   "dispatch.retry.multiplier",
			Message: "multiplier must not be negative",
		}
	}

	return nil
}

func validateInvoker(cfg InvokerConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "invoker.base_url",
			Message: "pipeline API base URL is required",
		}
	}

	return nil
}

func validateScheduler(cfg SchedulerConfig) error {
	if cfg.JitterMaxSeconds < 0 {
		return &ValidationError{
			Field:   "scheduler.jitter_max_seconds",
			Message: "jitter must not be negative",
		}
	}

	if cfg.LeaseSeconds < 0 {
		return &ValidationError{
			Field:   "scheduler.lease_seconds",
			Message: "lease duration must not be negative",
		}
	}

	return nil
}

func validateReplay(cfg ReplayConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "replay.max_attempts",
			Message: "max attempts must not be negative",
		}
	}

	if cfg.BatchSize < 0 {
		return &ValidationError{
			Field:   "replay.batch_size",
			Message: "batch size must not be negative",
		}
	}

	return nil
}
