package model

// Identity is the remote account this bridge is connected as. Present only
// while the session is in the connected phase.
type Identity struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// Session is the singleton lifecycle view owned by the session manager.
// PairingCode carries the raw pairing challenge while the phase is pairing;
// rendering it as a scannable image is the caller's concern.
type Session struct {
	Phase             SessionPhase `json:"phase"`
	PairingCode       string       `json:"pairingCode,omitempty"`
	Identity          *Identity    `json:"connectedAs,omitempty"`
	LastError         string       `json:"lastError,omitempty"`
	ReconnectAttempts int          `json:"reconnectAttempts"`
}
