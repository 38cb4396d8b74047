package provisioning

import (
	"encoding/json"
	"fmt"
)

// policyDocument is the provider-side authorization document. Statements are
// deny-by-default: the document lists exactly what the plant's credential may
// do and nothing else.
type policyDocument struct {
	Version    string            `json:"version"`
	Statements []policyStatement `json:"statements"`
}

type policyStatement struct {
	Effect    string   `json:"effect"`
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}

// PolicyDocumentFor builds the authorization document scoped to one plant:
// connect as its identity, publish under its data subtree, subscribe and
// receive under its command subtree, and read/write its identity's reported
// and desired state.
func PolicyDocumentFor(names Names) (string, error) {
	doc := policyDocument{
		Version: "2024-01-01",
		Statements: []policyStatement{
			{
				Effect:    "allow",
				Actions:   []string{"messaging:Connect"},
				Resources: []string{"client/" + names.Identity},
			},
			{
				Effect:    "allow",
				Actions:   []string{"messaging:Publish"},
				Resources: []string{"topic/" + names.DataTopic, "topic/" + names.DataTopic + "/*"},
			},
			{
				Effect:    "allow",
				Actions:   []string{"messaging:Subscribe"},
				Resources: []string{"topicfilter/" + names.CommandTopic, "topicfilter/" + names.CommandTopic + "/*"},
			},
			{
				Effect:    "allow",
				Actions:   []string{"messaging:Receive"},
				Resources: []string{"topic/" + names.CommandTopic, "topic/" + names.CommandTopic + "/*"},
			},
			{
				Effect:    "allow",
				Actions:   []string{"state:GetReported", "state:UpdateDesired"},
				Resources: []string{"state/" + names.Identity + "/*"},
			},
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshalling policy document: %w", err)
	}
	return string(raw), nil
}
