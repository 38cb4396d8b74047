package provisioning

// Bundle is the complete output of a provisioning run: every external
// resource reference plus the derived topic strings. In simulation or
// disabled mode the bundle carries deterministic placeholders built from the
// same naming rules, so callers never branch on whether provisioning is real.
//
// CertificatePEM and PrivateKeyPEM are returned exactly once, here; they are
// stored only in sealed form and must never be logged.
type Bundle struct {
	IdentityName  string `json:"identity_name"`
	IdentityARN   string `json:"identity_arn"`
	CredentialID  string `json:"credential_id"`
	CredentialARN string `json:"credential_arn"`
	PolicyName    string `json:"policy_name"`
	PolicyARN     string `json:"policy_arn"`
	RuleName      string `json:"rule_name"`
	RuleARN       string `json:"rule_arn"`
	DataTopic     string `json:"data_topic"`
	CommandTopic  string `json:"command_topic"`

	CertificatePEM string `json:"certificate_pem"`
	PrivateKeyPEM  string `json:"private_key_pem"`

	Simulated bool `json:"simulated"`
}

// Credential is an asymmetric key pair issued by the messaging provider.
type Credential struct {
	ID             string
	ARN            string
	CertificatePEM string
	PrivateKeyPEM  string
}

// RoutingRule forwards a plant's telemetry from its data topic into an
// ordered message queue.
//
// The queue collapses redeliveries through DeduplicationKey (first of the
// three dedup layers; the ingest pipeline provides the other two) and keeps
// one plant's messages ordered through MessageGroupKey while plants proceed
// independently of each other.
type RoutingRule struct {
	Name             string
	Topic            string
	DeduplicationKey string
	MessageGroupKey  string
}
