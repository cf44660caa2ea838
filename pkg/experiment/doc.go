// Package experiment runs A/B experiments: lifecycle management, sticky
// variant assignment, conversion recording and statistics.
//
// An Engine owns experiments and assignments. Assignment is deterministic
// (bucket.Bucket over the user id salted with the experiment id, walked
// through the cumulative allocation) and persisted with an insert-if-absent
// write, so concurrent first contacts always converge on one stored variant.
//
//	engine := experiment.NewEngine(store, store)
//	exp, err := engine.Create(ctx, experiment.Spec{
//		Variants:   []string{"control", "treatment"},
//		Allocation: map[string]int{"control": 50, "treatment": 50},
//	})
//	_, err = engine.Start(ctx, exp.ID)
//	variant, err := engine.AssignVariant(ctx, exp.ID, userID)
//
// A Recorder appends conversion events to an EventLog, attributing each to
// the user's assigned variant. An Analyzer turns participants and events
// into stats.VariantStats, and a Refresher does that periodically so request
// paths read cached snapshots.
//
// Lifecycle:
//
//	draft --start--> running <--pause/start--> paused
//	running|paused --stop--> stopped
package experiment
