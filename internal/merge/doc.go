// Package merge implements the Data Merge Coordinator.
//
// Two independent producers feed one consumer-visible state:
//
//   - REST snapshots are authoritative: arrival replaces the whole state
//     object, because a snapshot reflects a newly chosen reporting period
//   - Stream messages patch topics inside the current period: full-replace
//     messages overwrite every topic field, delta messages overwrite only
//     the named topic, and nothing applies before the first snapshot
//
// Field-level overwrite makes the merge idempotent and tolerant of duplicate
// or out-of-order updates. Consumers hold read-only pointers that change by
// replacement, never in place.
package merge
