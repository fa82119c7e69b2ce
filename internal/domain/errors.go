package domain

// Errors returned by the core. All are local, synchronous and non-retryable
// by the core itself; callers decide whether to retry. None of them leaves a
// session in a partially-updated state.
var (
	ErrSessionNotFound = errf("session not found")
	ErrNotParticipant  = errf("actor is not a participant of this session")
	ErrSessionEnded    = errf("session has already ended")
	ErrNotYourTurn     = errf("it is not this participant's turn")
	ErrIllegalMove     = errf("move rejected by the rules engine")
	ErrNoDrawOffer     = errf("no draw offer is pending")
	ErrOwnDrawOffer    = errf("cannot respond to one's own draw offer")
	ErrNoTimeoutYet    = errf("no clock has expired yet")

	ErrAlreadyQueued    = errf("participant is already in the queue")
	ErrAlreadyInSession = errf("participant already has an active session")
	ErrNotQueued        = errf("participant is not in the queue")

	ErrSelfChallenge      = errf("cannot challenge oneself")
	ErrChallengePending   = errf("challenger already has an outstanding challenge")
	ErrChallengeNotFound  = errf("challenge not found or expired")
	ErrNotChallengeTarget = errf("only the challenged participant may respond")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

func errf(s string) error { return staticErr(s) }
