package types

// Event is a broadcastable record of a ledger state change. Attributes hold
// string-rendered values so downstream consumers do not need to understand the
// ledger's numeric encoding.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
