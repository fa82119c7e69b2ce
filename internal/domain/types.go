package domain

import "time"

// Role identifies a participant's fixed side in a session. White moves first.
type Role string

const (
	RoleWhite Role = "white"
	RoleBlack Role = "black"
)

// Opposite returns the other side.
func (r Role) Opposite() Role {
	if r == RoleWhite {
		return RoleBlack
	}
	return RoleWhite
}

// Status is the session lifecycle state. The only transition is
// StatusActive → StatusEnded; there is no re-entry.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// TerminationReason enumerates why a session ended.
type TerminationReason string

const (
	ReasonCheckmate            TerminationReason = "checkmate"
	ReasonStalemate            TerminationReason = "stalemate"
	ReasonInsufficientMaterial TerminationReason = "insufficient_material"
	ReasonSeventyFiveMoves     TerminationReason = "seventy_five_moves"
	ReasonResignation          TerminationReason = "resignation"
	ReasonDrawAgreement        TerminationReason = "draw_agreement"
	ReasonTimeout              TerminationReason = "timeout"
)

// Session is one clocked two-player game from creation to termination.
// The position FEN is owned by the session engine and mutated only through
// the board oracle. WinnerID is empty on a draw; Reason is set exactly once,
// on the transition to StatusEnded.
type Session struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	FEN         string            `json:"fen"`
	WhiteID     string            `json:"white_id"`
	BlackID     string            `json:"black_id"`
	WhiteClock  int               `json:"white_clock"` // seconds remaining
	BlackClock  int               `json:"black_clock"`
	DrawOfferBy string            `json:"draw_offer_by,omitempty"`
	WinnerID    string            `json:"winner_id,omitempty"`
	Reason      TerminationReason `json:"reason,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RoleOf returns the role bound to the participant, or "" if not a participant.
func (s *Session) RoleOf(participantID string) Role {
	switch participantID {
	case s.WhiteID:
		return RoleWhite
	case s.BlackID:
		return RoleBlack
	}
	return ""
}

// Participant returns the participant bound to the role.
func (s *Session) Participant(r Role) string {
	if r == RoleWhite {
		return s.WhiteID
	}
	return s.BlackID
}

// Opponent returns the other participant's id.
func (s *Session) Opponent(participantID string) string {
	if participantID == s.WhiteID {
		return s.BlackID
	}
	if participantID == s.BlackID {
		return s.WhiteID
	}
	return ""
}

// HasParticipant reports whether the id is one of the two bound roles.
func (s *Session) HasParticipant(participantID string) bool {
	return s.RoleOf(participantID) != ""
}

// ClockFor returns the remaining seconds for the role.
func (s *Session) ClockFor(r Role) int {
	if r == RoleWhite {
		return s.WhiteClock
	}
	return s.BlackClock
}

// SetClock overwrites the remaining seconds for the role, floored at zero.
func (s *Session) SetClock(r Role, seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	if r == RoleWhite {
		s.WhiteClock = seconds
	} else {
		s.BlackClock = seconds
	}
}

// MoveRecord is one applied move. Records are append-only, ordered by a
// strictly increasing sequence number per session, and never mutated.
type MoveRecord struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	PlayedBy  Role      `json:"played_by"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingEntry is one immutable skill-rating observation. The current rating
// of a participant is the entry with the latest timestamp; history is a log,
// not a mutable field. SessionID is empty for the seed entry.
type RatingEntry struct {
	ParticipantID string    `json:"participant_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Rating        int       `json:"rating"`
	CreatedAt     time.Time `json:"created_at"`
}

// QueueEntry is a participant waiting to be paired. Unique per participant
// while waiting; removed by withdrawal or promotion into a session.
type QueueEntry struct {
	ParticipantID string    `json:"participant_id"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Challenge is a pending direct invitation from one participant to another.
type Challenge struct {
	ID           string    `json:"id"`
	ChallengerID string    `json:"challenger_id"`
	TargetID     string    `json:"target_id"`
	CreatedAt    time.Time `json:"created_at"`
}
