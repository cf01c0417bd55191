// Package tracker keeps an optimistic client-side mirror of daily usage.
//
// A Tracker shows the projected count the moment an action starts and
// reconciles with the server when the answer arrives; the server count always
// wins. Each feature mirror moves through idle, optimistically_incremented,
// reconciled and limit_reached, driven by a guarded transition table. Actions
// at the displayed limit open the upgrade prompt without a request.
//
//	client := tracker.NewHTTPClient("https://api.example.com", tracker.StaticToken(token))
//	t := tracker.New(client, map[entitlement.FeatureID]tracker.FeatureConfig{
//		entitlement.FeatureSearch: {Limit: 20},
//	}, tracker.WithNotifier(ui))
//
//	t.Mount(ctx, entitlement.FeatureSearch)
//	outcome, err := t.Act(ctx, entitlement.FeatureSearch)
//
// The mirror is advisory. Enforcement happens on the server.
package tracker
