package provisioning

import (
	"fmt"
	"strings"
)

// Names is the full set of provider-side resource names derived from a plant
// code. Derivation is pure and deterministic: real provisioning, simulation,
// and deprovisioning all resolve the same names for the same code.
type Names struct {
	Identity     string
	Policy       string
	Rule         string
	DataTopic    string
	CommandTopic string
}

// NamesFor derives the resource names for a plant code.
//
// Rule names follow the provider's identifier syntax, which forbids hyphens;
// the code's hyphens become underscores there and only there.
func NamesFor(code string) Names {
	return Names{
		Identity:     fmt.Sprintf("solar-plant-%s", code),
		Policy:       fmt.Sprintf("solar-plant-policy-%s", code),
		Rule:         fmt.Sprintf("solar_plant_rule_%s", strings.ReplaceAll(code, "-", "_")),
		DataTopic:    fmt.Sprintf("solar/%s/data", code),
		CommandTopic: fmt.Sprintf("solar/%s/commands", code),
	}
}

// DeduplicationKey is the queue dedup key expression attached to every
// routing rule: a redelivery of the same (topic, timestamp, device) within
// the queue's dedup window collapses to one message.
const DeduplicationKey = "${hash(topic)}${hash(timestamp)}${hash(deviceId)}"

// MessageGroupKey is the queue ordering-group key expression: messages from
// one plant stay ordered, different plants proceed independently.
const MessageGroupKey = "${plantId}"
