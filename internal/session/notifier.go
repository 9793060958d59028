package session

// Event is one externally observable session notification, fanned out to
// subscribers by whatever Notifier the manager was wired with.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types published by the manager.
const (
	EventPhase   = "phase"
	EventPairing = "pairing"
	EventMessage = "message"
	EventReceipt = "receipt"
	EventGroups  = "groups"
)

// Notifier receives session events. Implementations must not block; the
// manager publishes from its dispatch path.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) {
	f(event)
}
