// Package nudge provides the business boundary for the review prompt.
// It defines the trigger Catalog, the pure selection Engine, the Service
// (session building, per-user serialization, persistence), the Store
// interfaces and the domain models.
package nudge
