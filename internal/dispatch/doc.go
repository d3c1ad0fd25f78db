// Package dispatch runs campaign broadcast loops.
//
// Each running campaign owns one loop goroutine. A cycle re-reads the
// campaign, sends every message to every chat concurrently, records each
// outcome in the delivery log, waits for all attempts, then sleeps the
// campaign interval. Stopping a campaign ends the loop at the next cycle
// boundary; attempts already in flight finish.
package dispatch
