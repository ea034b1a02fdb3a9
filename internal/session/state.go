package session

import (
	"time"

	"cardauth/internal/storage"
)

// State is the lifecycle phase of a card session.
type State string

const (
	StateLoggedOut      State = "logged_out"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateExpired        State = "expired"
)

func (s State) String() string {
	return string(s)
}

// SessionState is the card session owned by a Manager.
type SessionState struct {
	Authenticated bool
	CardNumber    string
	CardType      string
	// ExpiresAt is the server supplied display form of ExpiresTs.
	ExpiresAt string
	// ExpiresTs is the expiry in unix seconds; zero when unknown.
	ExpiresTs int64
	// LastHeartbeat is the unix time of the last successful heartbeat.
	LastHeartbeat *int64
}

func (s SessionState) record() storage.Record {
	return storage.Record{
		Authenticated: s.Authenticated,
		CardNumber:    s.CardNumber,
		ExpiresAt:     s.ExpiresAt,
		ExpiresTs:     s.ExpiresTs,
		CardType:      s.CardType,
		LastHeartbeat: copyInt64(s.LastHeartbeat),
	}
}

func stateFromRecord(r storage.Record) SessionState {
	return SessionState{
		Authenticated: r.Authenticated,
		CardNumber:    r.CardNumber,
		CardType:      r.CardType,
		ExpiresAt:     r.ExpiresAt,
		ExpiresTs:     r.ExpiresTs,
		LastHeartbeat: copyInt64(r.LastHeartbeat),
	}
}

func (s SessionState) clone() SessionState {
	s.LastHeartbeat = copyInt64(s.LastHeartbeat)
	return s
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// expiredAt reports whether the session is expired at now. An unknown
// expiry counts as expired.
func (s SessionState) expiredAt(now time.Time) bool {
	return s.ExpiresTs == 0 || now.Unix() >= s.ExpiresTs
}

// Remaining is the floored time left on a session.
type Remaining struct {
	// Known is false when no expiry has been received.
	Known   bool
	Expired bool
	Days    int64
	Hours   int64
	Minutes int64
}

func remainingAt(expiresTs int64, now time.Time) Remaining {
	if expiresTs == 0 {
		return Remaining{}
	}
	left := expiresTs - now.Unix()
	if left <= 0 {
		return Remaining{Known: true, Expired: true}
	}
	return Remaining{
		Known:   true,
		Days:    left / 86400,
		Hours:   (left % 86400) / 3600,
		Minutes: (left % 3600) / 60,
	}
}

// Status is a point-in-time view of a Manager.
type Status struct {
	State           State
	Configured      bool
	Session         SessionState
	Expired         bool
	Remaining       Remaining
	TimeRemaining   string
	HeartbeatActive bool
}
