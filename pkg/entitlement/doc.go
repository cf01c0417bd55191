// Package entitlement resolves how many uses of a metered feature a user is
// entitled to today.
//
// A Catalog holds the static FeatureDefinition table (free and pro limits plus
// a warning threshold for each feature). The Resolver combines it with the
// user's stored UserProfile and answers ResolveLimit without side effects.
//
// The stored tier is only honoured while the subscription is active and the
// billing period has not ended; EffectiveTier applies that rule and is the
// single place other packages should use to decide whether a user is premium.
// A user without a stored profile is treated as a fresh free user.
//
//	resolver := entitlement.NewResolver(profiles, entitlement.DefaultCatalog())
//	ent, err := resolver.ResolveLimit(ctx, userID, entitlement.FeatureSearch)
//	if err != nil {
//		// errors.Is(err, entitlement.ErrStoreUnavailable) means deny
//	}
//
// Profiles are mutated only by the subscription lifecycle sync in the billing
// package; this package never writes them.
package entitlement
