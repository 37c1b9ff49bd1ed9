package types

// ScheduleKind discriminates which specialized scheduler loop owns a
// schedule entry. Each kind has its own loop, its own notification channel,
// and its own uniqueness slot per session.
type ScheduleKind string

const (
	// KindReminder is a pre-session reminder notification for the roster.
	KindReminder ScheduleKind = "reminder"
	// KindJoinNotice tells a promoted player they may now join the session.
	KindJoinNotice ScheduleKind = "join_notice"
	// KindStatusTransition moves the owning session to a new status at due time.
	KindStatusTransition ScheduleKind = "status_transition"
)

// AllScheduleKinds lists every kind a deployment may run a loop for.
// Binaries iterate this to start one scheduler per kind.
var AllScheduleKinds = []ScheduleKind{
	KindReminder,
	KindJoinNotice,
	KindStatusTransition,
}

// Valid reports whether the kind is one of the known schedule kinds.
func (k ScheduleKind) Valid() bool {
	switch k {
	case KindReminder, KindJoinNotice, KindStatusTransition:
		return true
	}
	return false
}

// SessionStatus represents the lifecycle state of a bookable session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionOpen       SessionStatus = "open"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Valid reports whether the status is one of the known session states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionOpen, SessionInProgress, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}
