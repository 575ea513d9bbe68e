// Package poller implements the full coin fetch.
//
// The poller:
//   - Calls GET /coins once on start to seed the local table
//   - Repeats on a fixed interval as a backstop for missed stream updates
//   - Pushes every coin into the writer queue with source="rest"
//   - Skips ticks while the feed has asked clients to come back later
package poller
