package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cohenjo/plansync/pkg/transform"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags first, then rules spanning several fields
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := structValidator().Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return c.validateCustomRules()
}

func (c *Config) validateCustomRules() error {
	switch c.Cache.Type {
	case "mongodb", "mongo":
		if c.Cache.Mongo.URI == "" {
			return fmt.Errorf("cache.mongodb.uri is required for the mongodb cache")
		}
	case "sql":
		if c.Cache.SQL.DSN == "" {
			return fmt.Errorf("cache.sql.dsn is required for the sql cache")
		}
	case "cosmosdb":
		if c.Cache.Cosmos.Endpoint == "" && c.Cache.Cosmos.ConnectionString == "" {
			return fmt.Errorf("cache.cosmosdb.endpoint or cache.cosmosdb.connection_string is required for the cosmosdb cache")
		}
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when logging.output is file")
	}

	if c.Sync.EventDetailSpec != "" {
		if _, err := transform.NewShaperFromSpec(c.Sync.EventDetailSpec); err != nil {
			return fmt.Errorf("sync.event_detail_spec is invalid: %w", err)
		}
	}

	for i, token := range c.Server.AuthTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("server.auth_tokens[%d] is empty", i)
		}
	}
	return nil
}

// formatValidationErrors formats validator errors into a readable format
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, validationError := range validationErrors {
		messages = append(messages, fmt.Sprintf(
			"field '%s' failed validation: %s",
			strings.TrimPrefix(validationError.Namespace(), "Config."),
			validationError.Tag(),
		))
	}
	return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
}
