package nudge

import (
	"errors"
	"fmt"
	"time"
)

// Reason is the answer a user gave when closing the prompt.
type Reason string

const (
	// ReasonMaybeLater hides the prompt for the cooldown window.
	ReasonMaybeLater Reason = "maybe_later"

	// ReasonAmNow means the user went to leave a review.
	ReasonAmNow Reason = "am_now"

	// ReasonAlreadyDid means the user says they already left one.
	ReasonAlreadyDid Reason = "already_did"
)

// ErrUnknownReason is returned by ParseReason for values outside the known set.
var ErrUnknownReason = errors.New("unknown dismissal reason")

// ParseReason validates a reason received from a transport.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonMaybeLater, ReasonAmNow, ReasonAlreadyDid:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReason, s)
	}
}

// label bounds metric cardinality for reasons that skipped ParseReason.
func (r Reason) label() string {
	switch r {
	case ReasonMaybeLater, ReasonAmNow, ReasonAlreadyDid:
		return string(r)
	default:
		return "other"
	}
}

// closes reports whether the reason permanently opts the user out.
func (r Reason) closes() bool {
	return r == ReasonAmNow || r == ReasonAlreadyDid
}

// Selection identifies the trigger picked for display.
type Selection struct {
	Group    string `json:"group"`
	Code     string `json:"code"`
	Priority int    `json:"priority"`
	Message  string `json:"message"`
	Link     string `json:"link"`
}

// Record is a user's dismissal history. The zero value means nothing was
// ever dismissed.
type Record struct {
	// DismissedGroups maps a group key to the highest trigger priority the
	// user has dismissed in that group.
	DismissedGroups map[string]int `json:"dismissed_groups"`

	// LastDismissedAt is zero when the user never dismissed anything.
	LastDismissedAt time.Time `json:"last_dismissed_at,omitzero"`

	// AlreadyDid is terminal once set.
	AlreadyDid bool `json:"already_did"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return &Record{}
	}
	cp := *r
	if r.DismissedGroups != nil {
		cp.DismissedGroups = make(map[string]int, len(r.DismissedGroups))
		for k, v := range r.DismissedGroups {
			cp.DismissedGroups[k] = v
		}
	}
	return &cp
}

// Action is a dismissal request as received from a transport.
type Action struct {
	Group    string `json:"group"`
	Code     string `json:"code"`
	Priority int    `json:"priority"`
	Reason   Reason `json:"reason"`
}

// DismissalEvent describes one persisted dismissal.
type DismissalEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Group      string    `json:"group"`
	Code       string    `json:"code"`
	Priority   int       `json:"priority"`
	Reason     Reason    `json:"reason"`
	Closed     bool      `json:"closed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DismissResult is the outcome of Service.Dismiss.
type DismissResult struct {
	Event  *DismissalEvent `json:"event"`
	Record *Record         `json:"record"`
}
