// Package catalogfile loads extra trigger groups from a YAML file and turns
// them into a nudge.Extension.
//
// Example:
//
//	groups:
//	  - key: time_installed
//	    triggers:
//	      - code: one_year
//	        priority: 40
//	        after_days: 365
//	        message: "{product} turned one on your site!"
package catalogfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/nudge/internal/nudge"
)

// ProductPlaceholder is replaced by the configured product name in messages.
const ProductPlaceholder = "{product}"

// MaxAfterDays is the largest after_days that fits in a time.Duration.
const MaxAfterDays = math.MaxInt64 / int64(24*time.Hour)

// File is the decoded catalog file.
type File struct {
	Groups []Group `yaml:"groups"`
}

// Group adds to or creates a trigger group.
type Group struct {
	Key      string    `yaml:"key"`
	Priority *int      `yaml:"priority"`
	Triggers []Trigger `yaml:"triggers"`
}

// Trigger is one trigger definition. Conditions are all optional; a trigger
// without any condition always fires.
type Trigger struct {
	Code      string `yaml:"code"`
	Message   string `yaml:"message"`
	Link      string `yaml:"link"`
	Priority  *int   `yaml:"priority"`
	AfterDays *int   `yaml:"after_days"`
	Disabled  bool   `yaml:"disabled"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML. Unknown fields are rejected.
func Parse(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks structural shape only. Missing priorities are allowed.
func (f *File) Validate() error {
	var errs []error
	for gi, g := range f.Groups {
		if g.Key == "" {
			errs = append(errs, fmt.Errorf("groups[%d]: key is required", gi))
		}
		for ti, t := range g.Triggers {
			if t.Code == "" {
				errs = append(errs, fmt.Errorf("groups[%d].triggers[%d]: code is required", gi, ti))
			}
			if t.AfterDays != nil && *t.AfterDays < 0 {
				errs = append(errs, fmt.Errorf("groups[%d].triggers[%d]: after_days must be >= 0", gi, ti))
			}
			if t.AfterDays != nil && int64(*t.AfterDays) > MaxAfterDays {
				errs = append(errs, fmt.Errorf("groups[%d].triggers[%d]: after_days must be <= %d", gi, ti, MaxAfterDays))
			}
		}
	}
	return errors.Join(errs...)
}

// Extension merges the file into the definitions: groups with a known key
// get the file's triggers appended (same code replaces), other groups are
// appended whole.
func (f *File) Extension() nudge.Extension {
	return func(env nudge.Env, defs []nudge.GroupDef) []nudge.GroupDef {
		index := make(map[string]int, len(defs))
		for i, d := range defs {
			index[d.Key] = i
		}

		for _, g := range f.Groups {
			triggers := make([]nudge.TriggerDef, 0, len(g.Triggers))
			for _, t := range g.Triggers {
				triggers = append(triggers, t.def(env))
			}

			if i, ok := index[g.Key]; ok {
				d := defs[i]
				d.Triggers = append(append([]nudge.TriggerDef(nil), d.Triggers...), triggers...)
				if g.Priority != nil {
					d.Priority = nudge.P(*g.Priority)
				}
				defs[i] = d
				continue
			}

			index[g.Key] = len(defs)
			defs = append(defs, nudge.GroupDef{
				Key:      g.Key,
				Priority: rank(g.Priority),
				Triggers: triggers,
			})
		}
		return defs
	}
}

func (t Trigger) def(env nudge.Env) nudge.TriggerDef {
	link := t.Link
	if link == "" {
		link = env.ReviewURL
	}
	var conds []bool
	switch {
	case t.AfterDays == nil:
	case int64(*t.AfterDays) > MaxAfterDays:
		// unvalidated File; out of range never fires
		conds = append(conds, false)
	default:
		conds = append(conds, env.Elapsed(time.Duration(*t.AfterDays)*24*time.Hour))
	}
	if t.Disabled {
		conds = append(conds, false)
	}
	return nudge.TriggerDef{
		Code:       t.Code,
		Message:    strings.ReplaceAll(t.Message, ProductPlaceholder, env.Product),
		Link:       link,
		Priority:   rank(t.Priority),
		Conditions: conds,
	}
}

func rank(p *int) nudge.Rank {
	if p == nil {
		return nudge.Rank{}
	}
	return nudge.P(*p)
}
