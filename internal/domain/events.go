package domain

// EventKind names a notification pushed through the Notifier. Delivery is
// best-effort fan-out; committed state never depends on it.
type EventKind string

const (
	EventPaired            EventKind = "paired"
	EventMoveApplied       EventKind = "move_applied"
	EventDrawOffered       EventKind = "draw_offered"
	EventDrawDeclined      EventKind = "draw_declined"
	EventSessionEnded      EventKind = "session_ended"
	EventChallengeInvite   EventKind = "challenge_invite"
	EventChallengeDeclined EventKind = "challenge_declined"
)

// PairedPayload is sent to each of the two participants of a new session.
type PairedPayload struct {
	SessionID  string `json:"session_id"`
	Role       Role   `json:"role"`
	OpponentID string `json:"opponent_id"`
}

type MoveAppliedPayload struct {
	SessionID  string `json:"session_id"`
	Seq        int    `json:"seq"`
	UCI        string `json:"uci"`
	SAN        string `json:"san"`
	FEN        string `json:"fen"`
	WhiteClock int    `json:"white_clock"`
	BlackClock int    `json:"black_clock"`
	Ended      bool   `json:"ended"`
}

type DrawOfferedPayload struct {
	SessionID string `json:"session_id"`
	OfferedBy string `json:"offered_by"`
}

type DrawDeclinedPayload struct {
	SessionID  string `json:"session_id"`
	DeclinedBy string `json:"declined_by"`
}

// SessionEndedPayload carries the outcome: WinnerID is empty on a draw.
type SessionEndedPayload struct {
	SessionID string            `json:"session_id"`
	WinnerID  string            `json:"winner_id,omitempty"`
	Reason    TerminationReason `json:"reason"`
}

type ChallengeInvitePayload struct {
	ChallengeID  string `json:"challenge_id"`
	ChallengerID string `json:"challenger_id"`
}

type ChallengeDeclinedPayload struct {
	ChallengeID string `json:"challenge_id"`
	TargetID    string `json:"target_id"`
}
