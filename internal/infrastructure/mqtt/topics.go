package mqtt

import "fmt"

// Topic prefixes for Solar Fleet Core.
//
// Plant topics follow the naming contract shared with the external messaging
// provider: solar/{plantCode}/data and solar/{plantCode}/commands. The same
// strings appear in the plant's authorization document and routing rule, so
// they must never change shape.
const (
	// TopicPrefixPlant is the base for all per-plant topics.
	TopicPrefixPlant = "solar"

	// TopicPrefixSystem is the base for backend system topics.
	TopicPrefixSystem = "solarfleet/system"
)

// Topics provides builders for Solar Fleet MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	dataTopic := topics.PlantData("RAJ1")
//	// Returns: "solar/RAJ1/data"
type Topics struct{}

// PlantData returns the data topic a plant's devices publish measurements on.
//
// Example: solar/RAJ1/data
func (Topics) PlantData(plantCode string) string {
	return fmt.Sprintf("%s/%s/data", TopicPrefixPlant, plantCode)
}

// PlantCommands returns the command topic a plant's gateway subscribes to.
//
// Example: solar/RAJ1/commands
func (Topics) PlantCommands(plantCode string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixPlant, plantCode)
}

// AllPlantData returns a pattern matching every plant's data topic.
//
// Pattern: solar/+/data
func (Topics) AllPlantData() string {
	return fmt.Sprintf("%s/+/data", TopicPrefixPlant)
}

// AllPlantCommands returns a pattern matching every plant's command topic.
//
// Pattern: solar/+/commands
func (Topics) AllPlantCommands() string {
	return fmt.Sprintf("%s/+/commands", TopicPrefixPlant)
}

// SystemStatus returns the backend's online/offline status topic.
// Published retained, with an LWT counterpart for crash detection.
//
// Example: solarfleet/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
