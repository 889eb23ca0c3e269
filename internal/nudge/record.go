package nudge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LoadRecord reads a user's Record from its three attributes. Missing
// attributes yield the zero Record.
func LoadRecord(ctx context.Context, s AttributeStore, userID string) (*Record, error) {
	rec := &Record{}

	raw, ok, err := s.GetAttr(ctx, userID, AttrDismissedGroups)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", AttrDismissedGroups, err)
	}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.DismissedGroups); err != nil {
			return nil, fmt.Errorf("decode %s: %w", AttrDismissedGroups, err)
		}
	}

	raw, ok, err = s.GetAttr(ctx, userID, AttrLastDismissed)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", AttrLastDismissed, err)
	}
	if ok && len(raw) > 0 {
		ts, err := parseUnix(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", AttrLastDismissed, err)
		}
		rec.LastDismissedAt = ts
	}

	raw, ok, err = s.GetAttr(ctx, userID, AttrAlreadyDid)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", AttrAlreadyDid, err)
	}
	rec.AlreadyDid = ok && string(raw) == "1"

	return rec, nil
}

// SaveRecord writes all three attributes in one call.
func SaveRecord(ctx context.Context, s AttributeStore, userID string, rec *Record) error {
	groups := rec.DismissedGroups
	if groups == nil {
		groups = map[string]int{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode %s: %w", AttrDismissedGroups, err)
	}

	values := map[string][]byte{
		AttrDismissedGroups: raw,
		AttrLastDismissed:   formatUnix(rec.LastDismissedAt),
		AttrAlreadyDid:      []byte("0"),
	}
	if rec.AlreadyDid {
		values[AttrAlreadyDid] = []byte("1")
	}

	if err := s.SetAttrs(ctx, userID, values); err != nil {
		return fmt.Errorf("set attributes: %w", err)
	}
	return nil
}

// InstalledAt returns the installation time, storing now on first use.
func InstalledAt(ctx context.Context, s OptionStore, now time.Time) (time.Time, error) {
	raw, err := s.LoadOrStoreOption(ctx, OptionInstalledAt, formatUnix(now))
	if err != nil {
		return time.Time{}, fmt.Errorf("load %s: %w", OptionInstalledAt, err)
	}
	ts, err := parseUnix(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", OptionInstalledAt, err)
	}
	return ts, nil
}

func formatUnix(t time.Time) []byte {
	if t.IsZero() {
		return []byte{}
	}
	return strconv.AppendInt(nil, t.Unix(), 10)
}

func parseUnix(raw []byte) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}
