package constants

// SessionState is the lifecycle position of one requester's batch.
type SessionState string

// Stable values, also used in log attributes.
const (
	StateIdle                SessionState = "IDLE"
	StateAccumulating        SessionState = "ACCUMULATING"
	StateAwaitingDateVolume  SessionState = "AWAITING_DATE_VOLUME"
	StateAwaitingCarrier     SessionState = "AWAITING_CARRIER"
	StateRendering           SessionState = "RENDERING"
	StatePostRenderDecisions SessionState = "POST_RENDER_DECISIONS"
)

// DateMenuDays is how many calendar days (starting today) the date menu offers.
const DateMenuDays = 4

// MaxVolumeDigits caps the digit-by-digit volume buffer.
const MaxVolumeDigits = 4

func (s SessionState) String() string { return string(s) }
