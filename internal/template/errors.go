package template

import "errors"

// Domain errors for the template package.
var (
	// ErrTemplateNotFound is returned when a template ID does not exist.
	ErrTemplateNotFound = errors.New("template: not found")

	// ErrTemplateExists is returned when creating a template whose shortform
	// is already taken. Shortforms are globally unique.
	ErrTemplateExists = errors.New("template: shortform already exists")

	// ErrInvalidShortform is returned when a shortform fails format validation.
	ErrInvalidShortform = errors.New("template: invalid shortform")

	// ErrInvalidTagBlueprint is returned when a tag blueprint is malformed.
	ErrInvalidTagBlueprint = errors.New("template: invalid tag blueprint")

	// ErrRuleNotFound is returned when a hierarchy rule ID does not exist.
	ErrRuleNotFound = errors.New("template: hierarchy rule not found")
)
