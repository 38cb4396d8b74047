package plant

import (
	"fmt"
	"regexp"
	"strings"
)

// codePattern matches valid plant codes: 3-20 uppercase alphanumerics,
// underscore or hyphen. The code feeds directly into external resource names
// and topic strings, so the character set is deliberately narrow.
var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,20}$`)

// ValidateCode checks a plant code against the format contract.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCode, code, codePattern.String())
	}
	return nil
}

// ValidateBaseTopic checks that a base topic is usable for device topic
// derivation. MQTT wildcards are rejected: a base topic containing one would
// make every derived device topic a subscription pattern instead of a name.
func ValidateBaseTopic(baseTopic string) error {
	if strings.TrimSpace(baseTopic) == "" {
		return fmt.Errorf("%w: base topic is empty", ErrInvalidBaseTopic)
	}
	if strings.ContainsAny(baseTopic, "+#") {
		return fmt.Errorf("%w: %q contains MQTT wildcard characters", ErrInvalidBaseTopic, baseTopic)
	}
	if strings.HasSuffix(baseTopic, "/") {
		return fmt.Errorf("%w: %q must not end with '/'", ErrInvalidBaseTopic, baseTopic)
	}
	return nil
}

// Validate checks all user-supplied plant fields.
func (p *Plant) Validate() error {
	if err := ValidateCode(p.Code); err != nil {
		return err
	}
	return ValidateBaseTopic(p.BaseTopic)
}
