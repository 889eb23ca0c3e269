package nudge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mapStore implements Store for testing.
type mapStore struct {
	mu      sync.Mutex
	attrs   map[string]map[string][]byte
	options map[string][]byte
	getErr  error
	setErr  error
	optErr  error
	sets    int
}

func newMapStore() *mapStore {
	return &mapStore{
		attrs:   make(map[string]map[string][]byte),
		options: make(map[string][]byte),
	}
}

func (m *mapStore) GetAttr(_ context.Context, userID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.attrs[userID][key]
	return v, ok, nil
}

func (m *mapStore) SetAttrs(_ context.Context, userID string, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	if m.attrs[userID] == nil {
		m.attrs[userID] = make(map[string][]byte)
	}
	for k, v := range values {
		m.attrs[userID][k] = v
	}
	return nil
}

func (m *mapStore) LoadOrStoreOption(_ context.Context, key string, value []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.optErr != nil {
		return nil, m.optErr
	}
	if v, ok := m.options[key]; ok {
		return v, nil
	}
	m.options[key] = value
	return value, nil
}

func (m *mapStore) setInstalled(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[OptionInstalledAt] = formatUnix(t)
}

func TestLoadRecord_Empty(t *testing.T) {
	t.Parallel()

	rec, err := LoadRecord(context.Background(), newMapStore(), "u-1")
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if len(rec.DismissedGroups) != 0 || !rec.LastDismissedAt.IsZero() || rec.AlreadyDid {
		t.Errorf("expected zero record, got %+v", rec)
	}
}

func TestSaveRecord_Encoding(t *testing.T) {
	t.Parallel()

	s := newMapStore()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := SaveRecord(context.Background(), s, "u-1", &Record{
		DismissedGroups: map[string]int{"time_installed": 20},
		LastDismissedAt: ts,
	})
	if err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if s.sets != 1 {
		t.Errorf("SetAttrs called %d times, want 1", s.sets)
	}

	attrs := s.attrs["u-1"]
	if got := string(attrs[AttrDismissedGroups]); got != `{"time_installed":20}` {
		t.Errorf("%s = %s", AttrDismissedGroups, got)
	}
	if got := string(attrs[AttrLastDismissed]); got != "1767323045" {
		t.Errorf("%s = %s", AttrLastDismissed, got)
	}
	if got := string(attrs[AttrAlreadyDid]); got != "0" {
		t.Errorf("%s = %s", AttrAlreadyDid, got)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  *Record
	}{
		{"zero", &Record{}},
		{"maybe later", &Record{DismissedGroups: map[string]int{"a": 10, "b": 30}, LastDismissedAt: time.Unix(1_700_000_000, 0).UTC()}},
		{"closed", &Record{DismissedGroups: map[string]int{"a": 10}, LastDismissedAt: time.Unix(1_700_000_000, 0).UTC(), AlreadyDid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newMapStore()
			ctx := context.Background()
			if err := SaveRecord(ctx, s, "u", tt.rec); err != nil {
				t.Fatalf("SaveRecord: %v", err)
			}
			got, err := LoadRecord(ctx, s, "u")
			if err != nil {
				t.Fatalf("LoadRecord: %v", err)
			}
			if len(got.DismissedGroups) != len(tt.rec.DismissedGroups) {
				t.Errorf("DismissedGroups = %v, want %v", got.DismissedGroups, tt.rec.DismissedGroups)
			}
			for k, v := range tt.rec.DismissedGroups {
				if got.DismissedGroups[k] != v {
					t.Errorf("DismissedGroups[%s] = %d, want %d", k, got.DismissedGroups[k], v)
				}
			}
			if !got.LastDismissedAt.Equal(tt.rec.LastDismissedAt) {
				t.Errorf("LastDismissedAt = %v, want %v", got.LastDismissedAt, tt.rec.LastDismissedAt)
			}
			if got.AlreadyDid != tt.rec.AlreadyDid {
				t.Errorf("AlreadyDid = %v, want %v", got.AlreadyDid, tt.rec.AlreadyDid)
			}
		})
	}
}

func TestLoadRecord_Errors(t *testing.T) {
	t.Parallel()

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		s := newMapStore()
		s.getErr = errors.New("boom")
		if _, err := LoadRecord(context.Background(), s, "u"); !errors.Is(err, s.getErr) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})

	t.Run("corrupt groups", func(t *testing.T) {
		t.Parallel()
		s := newMapStore()
		s.attrs["u"] = map[string][]byte{AttrDismissedGroups: []byte("{not json")}
		if _, err := LoadRecord(context.Background(), s, "u"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("corrupt timestamp", func(t *testing.T) {
		t.Parallel()
		s := newMapStore()
		s.attrs["u"] = map[string][]byte{AttrLastDismissed: []byte("yesterday")}
		if _, err := LoadRecord(context.Background(), s, "u"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestSaveRecord_StoreError(t *testing.T) {
	t.Parallel()

	s := newMapStore()
	s.setErr = errors.New("disk full")
	if err := SaveRecord(context.Background(), s, "u", &Record{}); !errors.Is(err, s.setErr) {
		t.Errorf("err = %v, want wrapped disk full", err)
	}
}

func TestInstalledAt_FirstWriteWins(t *testing.T) {
	t.Parallel()

	s := newMapStore()
	ctx := context.Background()
	first := time.Unix(1_700_000_000, 0).UTC()

	got, err := InstalledAt(ctx, s, first)
	if err != nil {
		t.Fatalf("InstalledAt: %v", err)
	}
	if !got.Equal(first) {
		t.Errorf("first = %v, want %v", got, first)
	}

	got, err = InstalledAt(ctx, s, first.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("InstalledAt: %v", err)
	}
	if !got.Equal(first) {
		t.Errorf("second = %v, want %v", got, first)
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &Record{DismissedGroups: map[string]int{"a": 1}}
	cp := orig.Clone()
	cp.DismissedGroups["a"] = 99
	if orig.DismissedGroups["a"] != 1 {
		t.Error("Clone shares DismissedGroups")
	}

	var nilRec *Record
	if nilRec.Clone() == nil {
		t.Error("Clone of nil must return an empty record")
	}
}
