package template

import (
	"fmt"
	"regexp"
)

// shortformPattern matches valid template shortforms: 2-6 uppercase
// alphanumerics. The shortform is the prefix of every device identifier
// generated from the template ("INV" → "INV_1", "INV_2", ...).
var shortformPattern = regexp.MustCompile(`^[A-Z0-9]{2,6}$`)

// ValidateShortform checks a template shortform against the format contract.
func ValidateShortform(shortform string) error {
	if !shortformPattern.MatchString(shortform) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidShortform, shortform, shortformPattern.String())
	}
	return nil
}

// Validate checks all user-supplied template fields.
func (t *DeviceTemplate) Validate() error {
	if err := ValidateShortform(t.Shortform); err != nil {
		return err
	}
	if t.DeviceType == "" {
		return fmt.Errorf("%w: device type is required", ErrInvalidTagBlueprint)
	}
	for i := range t.Tags {
		if err := t.Tags[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a tag blueprint's fields.
func (b *TagBlueprint) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("%w: tag name is required", ErrInvalidTagBlueprint)
	}
	if b.DataType == "" {
		return fmt.Errorf("%w: tag %q has no data type", ErrInvalidTagBlueprint, b.Name)
	}
	if b.MinValue != nil && b.MaxValue != nil && *b.MinValue > *b.MaxValue {
		return fmt.Errorf("%w: tag %q min %v exceeds max %v",
			ErrInvalidTagBlueprint, b.Name, *b.MinValue, *b.MaxValue)
	}
	return nil
}
