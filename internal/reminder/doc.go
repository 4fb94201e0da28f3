// Package reminder implements deferred multi-stage group notifications.
//
// Every event carries a ladder of stages ("24h before", "1h before", "due").
// Two mechanisms fire them:
//   - an in-memory timer engine for stages due in the future (precise, but
//     lost on restart), and
//   - a periodic reconciliation sweep over the store (the durability
//     backstop that catches anything the timers missed).
//
// Both funnel into one dispatch path whose atomic pending->inflight claim
// guarantees a stage is delivered at most once even when both mechanisms
// notice it at the same time. The store is the single source of truth; the
// timer map is a disposable cache rebuilt on startup.
package reminder
