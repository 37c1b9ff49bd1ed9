package types

import (
	"encoding/json"
	"time"
)

// EventMessage is the domain event body published to the broker when a
// schedule entry is processed. JSON tags use snake_case to match the payload
// contract consumed by the notification and projection workers.
//
// The retry counter is deliberately NOT part of the body: it lives in the
// broker-level retry_count message attribute so that redelivery bookkeeping
// never mutates the event payload consumers deduplicate on.
type EventMessage struct {
	// Core identity. EventID is the consumer-side deduplication key: the
	// publisher is at-least-once, so consumers must treat a repeated
	// EventID as already handled.
	EventID    string `json:"event_id"`
	RoutingKey string `json:"routing_key"`

	// Provenance
	SessionID string `json:"session_id"`
	OrgID     string `json:"org_id"`
	EntryID   string `json:"entry_id"`

	OccurredAt time.Time `json:"occurred_at"`

	// Observability
	TraceID string `json:"trace_id"`

	// Event-specific data for downstream rendering (session title, start
	// time, lead minutes, recipient, from/to statuses).
	Payload map[string]any `json:"payload"`
}

// Message attribute names carried alongside every published event.
const (
	AttrRoutingKey      = "routing_key"
	AttrRetryCount      = "retry_count"
	AttrContentEncoding = "content_encoding"
)

// EncodingZstd is the content_encoding attribute value for compressed bodies.
const EncodingZstd = "zstd"

// ChangeNotice is the ephemeral wake-up hint decoded from a store change
// notification. It is never the source of truth: the scheduler always
// re-queries the store before acting, so a notice with empty fields is still
// a valid wake-up.
type ChangeNotice struct {
	Channel string
	EntryID string
	DueAt   time.Time
}

// changeNoticePayload is the wire shape of the notification payload.
// Unknown fields are ignored by encoding/json, per the channel contract.
type changeNoticePayload struct {
	EntryID string `json:"entry_id"`
	DueAt   string `json:"due_at"`
}

// DecodeChangeNotice parses a notification payload into a ChangeNotice.
// Malformed JSON or an unparseable timestamp degrades to an empty notice:
// the hint is lost but the wake-up still happens, and the periodic re-check
// guarantees correctness regardless.
func DecodeChangeNotice(channel string, payload []byte) ChangeNotice {
	notice := ChangeNotice{Channel: channel}

	var p changeNoticePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return notice
	}
	notice.EntryID = p.EntryID
	if p.DueAt != "" {
		if t, err := time.Parse(time.RFC3339, p.DueAt); err == nil {
			notice.DueAt = t.UTC()
		}
	}
	return notice
}
