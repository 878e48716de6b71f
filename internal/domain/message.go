package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Signal message types exchanged over the session channel.
const (
	MsgTypeOffer         = "offer"
	MsgTypeAnswer        = "answer"
	MsgTypeICECandidate  = "ice-candidate"
	MsgTypeViewerRequest = "viewer-request"
	MsgTypeZoomCommand   = "zoom-command"
)

// SignalMessage is one envelope on the session signaling channel.
// Addressing is explicit: To names a single participant, never a
// broadcast. Payload is decoded into one of the typed payload structs at
// the channel boundary via DecodePayload.
type SignalMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// OfferPayload carries an SDP offer.
type OfferPayload struct {
	SDP string `json:"sdp"`
}

// AnswerPayload carries an SDP answer.
type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries one ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// ViewerRequestPayload asks a camera for a direct peer connection.
type ViewerRequestPayload struct {
	ViewerID string `json:"viewer_id"`
}

// ZoomCommandPayload is an informational zoom instruction for a camera.
type ZoomCommandPayload struct {
	Level float64 `json:"level"`
}

// NewSignalMessage builds an envelope with the payload marshaled in.
func NewSignalMessage(msgType, from, to, sessionID string, payload any) (*SignalMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &SignalMessage{
		Type:      msgType,
		From:      from,
		To:        to,
		SessionID: sessionID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodePayload decodes the payload into the typed struct matching the
// message type. Unknown types are an error so that malformed traffic is
// rejected at the boundary instead of leaking untyped data inward.
func (m *SignalMessage) DecodePayload() (any, error) {
	switch m.Type {
	case MsgTypeOffer:
		var p OfferPayload
		return &p, json.Unmarshal(m.Payload, &p)
	case MsgTypeAnswer:
		var p AnswerPayload
		return &p, json.Unmarshal(m.Payload, &p)
	case MsgTypeICECandidate:
		var p CandidatePayload
		return &p, json.Unmarshal(m.Payload, &p)
	case MsgTypeViewerRequest:
		var p ViewerRequestPayload
		return &p, json.Unmarshal(m.Payload, &p)
	case MsgTypeZoomCommand:
		var p ZoomCommandPayload
		return &p, json.Unmarshal(m.Payload, &p)
	default:
		return nil, fmt.Errorf("unknown signal message type %q", m.Type)
	}
}
