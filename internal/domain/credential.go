package domain

// PairingCredential is the per-host pairing state issued by a TV on first
// secure authorization. It outlives the process (persisted by the config
// collaborator) and is mutated only by a successful secure handshake.
type PairingCredential struct {
	Token  string `json:"token,omitempty"`
	Paired bool   `json:"paired"`
}

// UsableToken reports whether the credential allows skipping the plain
// handshake and dialing the secure port directly.
func (c PairingCredential) UsableToken() bool {
	return c.Paired && c.Token != ""
}
