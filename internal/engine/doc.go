// Package engine drives keepers the way an automation host does.
//
// ARCHITECTURE:
//
// Single-Writer Tick Loop:
// The engine processes ticks in a single goroutine. Each tick optionally
// advances the height clock, then asks the keeper whether upkeep is due and,
// if so, performs it. This ensures:
// - Invocations never overlap
// - The service log order matches the tick order
// - A failed perform is observed before the next tick starts
//
// Tick Processing Flow:
// 1. Ticks are enqueued to a FIFO queue (Tick, Poke or a Ticker)
// 2. Engine.Run() dequeues ticks one at a time
// 3. The clock advances by the tick's block count
// 4. CheckDue is called; when due, PerformUpkeep is called with its payload
// 5. Step 4 repeats while due, up to the per-tick perform quota
//
// The default quota is one perform per tick: the keeper services exactly one
// batch per invocation and the host decides how often to invoke it. Hosts
// that drain the registry until nothing is due raise the quota with
// WithMaxPerformsPerTick.
//
// Errors from the keeper are logged and reported through the result hook;
// the loop keeps running. Nothing is retried within a tick.
package engine
