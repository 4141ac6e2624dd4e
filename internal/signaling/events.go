package signaling

import "encoding/json"

// Event types exchanged over the signaling socket.
const (
	EventStartSearch  = "start-search"
	EventSearching    = "searching"
	EventPartnerFound = "partner-found"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventMessage      = "message"
	EventEndChat      = "end-chat"
	EventPartnerLeft  = "partner-left"
	EventError        = "error"
)

// Error codes carried by error events.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeNoActivePartner = "NO_ACTIVE_PARTNER"
	CodeInvalidState    = "INVALID_STATE"
	CodeBadEvent        = "BAD_EVENT"
)

// Signal is the wire format for every signaling event, incoming and
// outgoing. SDP, candidates and chat payloads are raw JSON: the relay
// forwards them verbatim and never parses their contents.
type Signal struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Error fields, set only on error events.
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Encode marshals the signal for the socket. Marshal of this struct cannot
// fail, so the error is dropped.
func (s Signal) Encode() []byte {
	data, _ := json.Marshal(s)
	return data
}

func errorSignal(code, message string, retryAfter int) Signal {
	return Signal{Type: EventError, Code: code, Message: message, RetryAfter: retryAfter}
}
