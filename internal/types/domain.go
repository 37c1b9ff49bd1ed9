package types

import "time"

// Session is a bookable game session owned by an organization. This subsystem
// only reads sessions (to render reminder payloads and apply status
// transitions); all other fields live with the CRUD service.
type Session struct {
	ID        string        `json:"id"`
	OrgID     string        `json:"org_id"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	StartsAt  time.Time     `json:"starts_at"`
	EndsAt    time.Time     `json:"ends_at"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
}

// Deleted reports whether the session has been soft-deleted by the owning
// CRUD service. Deleted sessions suppress event publishing but their pending
// entries are still marked processed so they stop surfacing as due work.
func (s *Session) Deleted() bool {
	return s.DeletedAt != nil
}

// ScheduleEntry is one unit of time-triggered work. At most one unprocessed
// entry exists per (session, kind); the uniqueness is enforced by a partial
// unique index, not by application logic. Entries are never deleted by this
// subsystem, so processed history remains for audit and idempotency checks.
type ScheduleEntry struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Kind      ScheduleKind `json:"kind"`
	DueAt     time.Time    `json:"due_at"`
	Processed bool         `json:"processed"`
	Payload   EntryPayload `json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Due reports whether the entry is due at or before the given instant.
func (e *ScheduleEntry) Due(now time.Time) bool {
	return !e.DueAt.After(now)
}

// Payload field keys. The CRUD service writes these when it upserts an
// entry; processors read them. Unknown keys are preserved verbatim.
const (
	PayloadKeyLeadMinutes  = "lead_minutes"
	PayloadKeyTargetStatus = "target_status"
	PayloadKeyRecipient    = "recipient"
)

// LeadMinutes returns the reminder lead time in minutes, or 0 when absent.
// JSON numbers decode as float64, but callers tolerate integer writes too.
func (e *ScheduleEntry) LeadMinutes() int {
	switch v := e.Payload[PayloadKeyLeadMinutes].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// TargetStatus returns the status a status_transition entry should apply,
// or the empty string when the payload does not carry one.
func (e *ScheduleEntry) TargetStatus() SessionStatus {
	if v, ok := e.Payload[PayloadKeyTargetStatus].(string); ok {
		return SessionStatus(v)
	}
	return ""
}

// Recipient returns the opaque recipient reference carried by join-notice
// entries, or the empty string when absent.
func (e *ScheduleEntry) Recipient() string {
	if v, ok := e.Payload[PayloadKeyRecipient].(string); ok {
		return v
	}
	return ""
}
