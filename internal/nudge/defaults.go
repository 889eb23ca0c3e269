package nudge

import (
	"fmt"
	"time"
)

// GroupTimeInstalled is the key of the built-in campaign.
const GroupTimeInstalled = "time_installed"

const day = 24 * time.Hour

// Env carries the values trigger conditions are evaluated against.
type Env struct {
	InstalledAt time.Time
	Now         time.Time
	Product     string
	ReviewURL   string
}

// Elapsed reports whether at least d has passed since installation.
func (env Env) Elapsed(d time.Duration) bool {
	return !env.InstalledAt.Add(d).After(env.Now)
}

// Extension alters definitions for a given Env before the catalog is built.
type Extension func(env Env, defs []GroupDef) []GroupDef

// Bind fixes the env and returns a plain Override.
func (x Extension) Bind(env Env) Override {
	return func(defs []GroupDef) []GroupDef { return x(env, defs) }
}

// DefaultDefinitions returns the built-in time_installed campaign.
func DefaultDefinitions(env Env) []GroupDef {
	product := env.Product
	if product == "" {
		product = "this plugin"
	}
	return []GroupDef{{
		Key:      GroupTimeInstalled,
		Priority: P(10),
		Triggers: []TriggerDef{
			{
				Code:       "one_week",
				Message:    fmt.Sprintf("You have been using %s for a week now. If it helps you, would you consider leaving a quick review? It really helps us grow.", product),
				Link:       env.ReviewURL,
				Priority:   P(10),
				Conditions: []bool{env.Elapsed(7 * day)},
			},
			{
				Code:       "one_month",
				Message:    fmt.Sprintf("You have been using %s for about a month. Could you spare a minute to rate it? Reviews keep the project going.", product),
				Link:       env.ReviewURL,
				Priority:   P(20),
				Conditions: []bool{env.Elapsed(30 * day)},
			},
			{
				Code:       "three_months",
				Message:    fmt.Sprintf("%s has been with you for more than three months. A short review would mean a lot to us.", product),
				Link:       env.ReviewURL,
				Priority:   P(30),
				Conditions: []bool{env.Elapsed(90 * day)},
			},
		},
	}}
}
