package types

import "github.com/google/uuid"

// NewRequestID returns a fresh client-generated request id.
func NewRequestID() string {
	return uuid.New().String()
}

// RequestID correlates one completion with the request that produced it.
type RequestID struct {
	ClientID     string `json:"client_id"`               // Generated before sending
	ServerID     string `json:"server_id,omitempty"`     // From the provider response header
	CompletionID string `json:"completion_id,omitempty"` // "id" field of the stream chunks
}

// ID returns the effective request id. A server-returned id wins over the
// client-generated one; a mismatch is not an error.
func (r RequestID) ID() string {
	if r.ServerID != "" {
		return r.ServerID
	}
	return r.ClientID
}
