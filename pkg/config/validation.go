package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	if _, ok := cfg.Quota.Roles[cfg.Quota.DefaultRole]; !ok {
		return fmt.Errorf("quota: default_role %q has no entry in roles", cfg.Quota.DefaultRole)
	}

	key, err := cfg.Security.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	if cfg.Archive.Decrypt && key == nil {
		return errors.New("archive: decrypt is enabled but security.encryption_key is empty")
	}

	live := filepath.Clean(cfg.Storage.LiveRoot)
	recycle := filepath.Clean(cfg.Storage.RecycleRoot)
	if within(live, recycle) || within(recycle, live) {
		return fmt.Errorf("storage: live_root %q and recycle_root %q must not overlap", live, recycle)
	}

	return nil
}

// within reports whether p equals dir or lies below it.
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// secretFields are never echoed back in validation errors.
var secretFields = map[string]bool{
	"SecretKey":       true,
	"EncryptionKey":   true,
	"SecretAccessKey": true,
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		var value any = e.Value()
		if secretFields[e.Field()] {
			value = "<redacted>"
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), value)
	}
	return err
}
