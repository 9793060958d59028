package model

type SessionPhase string

const (
	PhaseDisconnected SessionPhase = "disconnected"
	PhaseInitializing SessionPhase = "initializing"
	PhasePairing      SessionPhase = "pairing"
	PhaseConnecting   SessionPhase = "connecting"
	PhaseConnected    SessionPhase = "connected"
	PhaseReconnecting SessionPhase = "reconnecting"
	PhaseError        SessionPhase = "error"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindVideo    ContentKind = "video"
	KindAudio    ContentKind = "audio"
	KindDocument ContentKind = "document"
	KindLocation ContentKind = "location"
	KindContact  ContentKind = "contact"
	KindSticker  ContentKind = "sticker"
	KindUnknown  ContentKind = "unknown"
)

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusPlayed    DeliveryStatus = "played"
)

// Rank orders delivery statuses so a receipt can only be compared against
// the read threshold, not parsed ad hoc at every call site.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusPlayed:
		return 4
	default:
		return -1
	}
}

// AtLeastRead reports whether the status has reached the read threshold.
func (s DeliveryStatus) AtLeastRead() bool {
	return s.Rank() >= StatusRead.Rank()
}
