package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks config values for correctness: struct tags first, then
// cross-field constraints the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: field %s fails %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Kernel.Permissive && c.Policy.Path != "" {
		return errors.New("invalid config: kernel.permissive and policy.path are mutually exclusive")
	}
	if !c.Kernel.Permissive && c.Policy.Path == "" {
		return errors.New("invalid config: policy.path is required unless kernel.permissive is set")
	}
	return nil
}
