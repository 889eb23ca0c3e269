package nudge

import (
	"cmp"
	"slices"
)

// Rank is an optional priority. Definitions coming from host overrides or
// catalog files may leave it unset; an unset rank ties with everything.
type Rank struct {
	Value int
	Valid bool
}

// P returns a valid Rank.
func P(v int) Rank { return Rank{Value: v, Valid: true} }

// CompareDesc orders higher priority first. It returns 0 when either side
// has no priority or both are equal, so a stable sort keeps input order.
func CompareDesc(a, b Rank) int {
	if !a.Valid || !b.Valid || a.Value == b.Value {
		return 0
	}
	return cmp.Compare(b.Value, a.Value)
}

// CompareAsc is the ascending counterpart of CompareDesc with the same ties.
func CompareAsc(a, b Rank) int {
	if !a.Valid || !b.Valid || a.Value == b.Value {
		return 0
	}
	return cmp.Compare(a.Value, b.Value)
}

// TriggerDef is the raw definition of a trigger.
type TriggerDef struct {
	Code       string
	Message    string
	Link       string
	Priority   Rank
	Conditions []bool
}

// GroupDef is the raw definition of a trigger group.
type GroupDef struct {
	Key      string
	Priority Rank
	Triggers []TriggerDef
}

// Override lets the host application extend or alter the definitions
// before the catalog is built.
type Override func(defs []GroupDef) []GroupDef

// Trigger is a built, immutable trigger.
type Trigger struct {
	Code       string
	Message    string
	Link       string
	Priority   Rank
	Conditions []bool
}

// Fires reports whether every condition holds.
func (t *Trigger) Fires() bool {
	for _, c := range t.Conditions {
		if !c {
			return false
		}
	}
	return true
}

// Group is a built trigger group with triggers in descending priority.
type Group struct {
	Key      string
	Priority Rank
	Triggers []Trigger
}

// Catalog is the doubly sorted set of groups. It is immutable after Build.
type Catalog struct {
	groups []Group
}

// Build applies overrides in order, collapses duplicate group keys and
// trigger codes (a later definition replaces the earlier one in place) and
// sorts groups and triggers by descending priority.
func Build(defs []GroupDef, overrides ...Override) *Catalog {
	defs = slices.Clone(defs)
	for _, o := range overrides {
		if o != nil {
			defs = o(defs)
		}
	}

	var groups []Group
	index := make(map[string]int, len(defs))
	for _, gd := range defs {
		g := Group{Key: gd.Key, Priority: gd.Priority, Triggers: buildTriggers(gd.Triggers)}
		if i, ok := index[gd.Key]; ok {
			groups[i] = g
			continue
		}
		index[gd.Key] = len(groups)
		groups = append(groups, g)
	}

	slices.SortStableFunc(groups, func(a, b Group) int {
		return CompareDesc(a.Priority, b.Priority)
	})
	return &Catalog{groups: groups}
}

func buildTriggers(defs []TriggerDef) []Trigger {
	var out []Trigger
	index := make(map[string]int, len(defs))
	for _, td := range defs {
		t := Trigger{
			Code:       td.Code,
			Message:    td.Message,
			Link:       td.Link,
			Priority:   td.Priority,
			Conditions: slices.Clone(td.Conditions),
		}
		if i, ok := index[td.Code]; ok {
			out[i] = t
			continue
		}
		index[td.Code] = len(out)
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b Trigger) int {
		return CompareDesc(a.Priority, b.Priority)
	})
	return out
}

// Groups returns the groups in selection order. Callers must not modify
// the returned slice.
func (c *Catalog) Groups() []Group {
	if c == nil {
		return nil
	}
	return c.groups
}

// Lookup finds a trigger by group key and code.
func (c *Catalog) Lookup(group, code string) (*Trigger, bool) {
	for gi := range c.Groups() {
		g := &c.groups[gi]
		if g.Key != group {
			continue
		}
		for ti := range g.Triggers {
			if g.Triggers[ti].Code == code {
				return &g.Triggers[ti], true
			}
		}
		return nil, false
	}
	return nil, false
}
