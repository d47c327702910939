package component

import (
	"fmt"

	"github.com/c360/mediaflow/errors"
)

// MaxNameLength caps component and provider names.
const MaxNameLength = 128

// ValidateComponentName accepts letters, digits, '-' and '_'. Dots are
// reserved as the separator of control paths and "node.port" references.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "empty name")
	}
	if len(name) > MaxNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "name too long")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_') {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q has invalid character %q", errors.ErrInvalidConfig, name, r),
				"ConfigValidator", "ValidateComponentName", "name characters")
		}
	}
	return nil
}
