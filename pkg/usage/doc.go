// Package usage meters per-user daily feature consumption.
//
// Service.CheckAndIncrement is the server-side gate every metered feature
// calls first. It resolves the caller's limit, then asks the Store for a
// single atomic increment bounded by that limit, so two concurrent requests
// can never both consume the last unit. Denied requests leave the counter
// untouched; allowed requests have already been persisted when the decision
// returns. Store failures deny the request (fail closed).
//
// Counters are keyed by user, feature and UTC calendar day. A new day starts
// from zero by virtue of a new key; old days are kept for audit. The only
// other write path is ResetDay, used by the subscription lifecycle sync when
// a user is granted a higher tier.
//
// MemoryStore serves tests and single-process runs; PostgreSQL and Redis
// implementations live under pkg/store.
package usage
