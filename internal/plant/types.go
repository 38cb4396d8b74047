package plant

import "time"

// Plant represents a solar installation managed by the fleet backend.
//
// Code is immutable after creation: device topics, the plant's messaging
// identity, its authorization document, and its routing rule are all derived
// from it.
type Plant struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	BaseTopic string    `json:"base_topic"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// External messaging identity references. All nil until the plant has been
	// provisioned; individually nil when provisioning was partial.
	IdentityName  *string `json:"identity_name,omitempty"`
	IdentityARN   *string `json:"identity_arn,omitempty"`
	CredentialID  *string `json:"credential_id,omitempty"`
	CredentialARN *string `json:"credential_arn,omitempty"`
	PolicyName    *string `json:"policy_name,omitempty"`
	RuleName      *string `json:"rule_name,omitempty"`
	DataTopic     *string `json:"data_topic,omitempty"`
	CommandTopic  *string `json:"command_topic,omitempty"`

	// Envelope-encrypted credential material. Never exposed over JSON.
	EncCertificatePEM *string `json:"-"`
	EncPrivateKeyPEM  *string `json:"-"`
}

// Provisioned reports whether the plant has a complete messaging identity.
func (p *Plant) Provisioned() bool {
	return p.IdentityName != nil && p.CredentialID != nil &&
		p.PolicyName != nil && p.RuleName != nil
}

// MessagingRefs is the set of external resource references written back to a
// plant after provisioning, and cleared after deprovisioning.
type MessagingRefs struct {
	IdentityName  string
	IdentityARN   string
	CredentialID  string
	CredentialARN string
	PolicyName    string
	RuleName      string
	DataTopic     string
	CommandTopic  string

	// Encrypted PEM blobs as produced by the vault.
	EncCertificatePEM string
	EncPrivateKeyPEM  string
}
