package nudge

import "context"

// Attribute keys used to persist a Record.
const (
	AttrDismissedGroups = "nudge_dismissed_groups"
	AttrLastDismissed   = "nudge_last_dismissed"
	AttrAlreadyDid      = "nudge_already_did"
)

// OptionInstalledAt holds the installation timestamp in unix seconds.
const OptionInstalledAt = "nudge_installed_at"

// AttributeStore is a per-user key/value store.
type AttributeStore interface {
	GetAttr(ctx context.Context, userID, key string) ([]byte, bool, error)
	// SetAttrs writes all values for one user atomically.
	SetAttrs(ctx context.Context, userID string, values map[string][]byte) error
}

// OptionStore holds site-wide values.
type OptionStore interface {
	// LoadOrStoreOption stores value under key unless a value is already
	// present, and returns the value that is stored afterwards.
	LoadOrStoreOption(ctx context.Context, key string, value []byte) ([]byte, error)
}

// Store is the persistence interface the Service needs.
type Store interface {
	AttributeStore
	OptionStore
}

// Notifier receives dismissal events after they are persisted.
type Notifier interface {
	Send(ctx context.Context, ev *DismissalEvent) error
}
