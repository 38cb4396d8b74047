package plant

import "errors"

// Domain errors for the plant package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, plant.ErrPlantNotFound) {
//	    // handle not found case
//	}
var (
	// ErrPlantNotFound is returned when a plant ID or code does not exist.
	ErrPlantNotFound = errors.New("plant: not found")

	// ErrPlantExists is returned when creating a plant whose code is already taken.
	ErrPlantExists = errors.New("plant: already exists")

	// ErrInvalidCode is returned when a plant code fails format validation.
	ErrInvalidCode = errors.New("plant: invalid code")

	// ErrInvalidBaseTopic is returned when a base topic is empty or malformed.
	ErrInvalidBaseTopic = errors.New("plant: invalid base topic")

	// ErrCodeImmutable is returned when an update attempts to change a plant code.
	ErrCodeImmutable = errors.New("plant: code is immutable")

	// ErrPlantHasDevices is returned when deleting a plant that still has devices.
	ErrPlantHasDevices = errors.New("plant: has devices, delete devices first")
)
