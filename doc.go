// Package workoutcache is a semantic cache for generated workouts.
//
// Before generating a workout, ask the cache whether a sufficiently similar one
// already exists:
//
//	c, err := workoutcache.New(workoutcache.WithValkey("localhost:6379", ""))
//	if err != nil { ... }
//	defer c.Close()
//
//	v, err := c.Lookup(ctx, workoutcache.NewQuery("5k run with 400m repeats").
//		Where(workoutcache.SportType, "run"))
//	if err == nil && v.Hit() {
//		return v.Matches[0].Workout // reuse
//	}
//	// generate, then c.Store(ctx, generated)
//
// Lookup never fails because a dependency is down: embedding or index outages
// degrade to a MISS with Verdict.Degraded set. FindCached returns those errors.
package workoutcache
