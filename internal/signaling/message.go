// Package signaling relays WebRTC handshake messages between the host and
// the guests of a room. Messages are never stored.
package signaling

import (
	"encoding/json"
	"strings"

	"tunesync-backend/internal/apperr"
)

type Type string

const (
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

const maxDataBytes = 64 << 10

type Message struct {
	Type            Type            `json:"type"`
	FromPrincipalID string          `json:"from_principal_id"`
	ToPrincipalID   *string         `json:"to_principal_id"`
	Data            json.RawMessage `json:"data"`
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
	default:
		return apperr.Validation("type must be offer, answer or ice-candidate")
	}
	if strings.TrimSpace(m.FromPrincipalID) == "" {
		return apperr.Validation("from_principal_id is required")
	}
	if m.ToPrincipalID != nil && strings.TrimSpace(*m.ToPrincipalID) == "" {
		return apperr.Validation("to_principal_id must not be empty")
	}
	if len(m.Data) > maxDataBytes {
		return apperr.Validation("signal payload is too large")
	}
	return nil
}

// Recipient is the identity a subscriber receives messages as.
type Recipient struct {
	PrincipalID string
	IsHost      bool
}

// Deliverable decides whether r should see m. Targeted messages go to their
// target only. Untargeted messages only reach the host, because guests never
// solicit a broadcast. Nobody receives their own messages.
func Deliverable(m Message, r Recipient) bool {
	if m.FromPrincipalID == r.PrincipalID {
		return false
	}
	if m.ToPrincipalID != nil {
		return *m.ToPrincipalID == r.PrincipalID
	}
	return r.IsHost
}
