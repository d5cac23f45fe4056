package gameclient

// RateLimitReason is the remote error marker for the sender abuse limit. It
// appears either in the response body error field or in the
// X-Avkn-Error-Localisation header.
const RateLimitReason = "GiftResponseError_RateLimitSender"

const levelGateMarker = "user has not reached level required"

// Outcome is the closed set of purchase results. Remote responses are decoded
// into one of these exactly once, at the client boundary; transport errors are
// returned separately as plain errors.
type Outcome interface {
	outcome()
}

// Purchased is a completed send. BalanceKnown is false when the remote
// response carried no balance, in which case callers must assume the cached
// value still stands.
type Purchased struct {
	NewBalance   int64
	BalanceKnown bool
}

// AlreadyOwned means the recipient has the item; nothing was charged.
type AlreadyOwned struct{}

// InsufficientBalance means the paying account ran dry; NewBalance is the
// remote-reported truth to reconcile against.
type InsufficientBalance struct {
	NewBalance int64
}

// RateLimited means the sender tripped the remote abuse protection.
type RateLimited struct{}

// LevelGated means the recipient does not meet a remote eligibility rule.
type LevelGated struct{}

// Other is any remaining non-2xx response.
type Other struct {
	StatusCode int
	Code       string
	Message    string
}

func (Purchased) outcome()           {}
func (AlreadyOwned) outcome()        {}
func (InsufficientBalance) outcome() {}
func (RateLimited) outcome()         {}
func (LevelGated) outcome()          {}
func (Other) outcome()               {}
