// Package writer applies price observations to the local store.
//
// The coin writer drains the router's observation queue in batches. Each
// batch is one store write transaction in which every observation is
// merged in arrival order:
//   - unknown symbol: insert with min = max = current = price
//   - known symbol: replace name, icon and current price, then widen min
//     and max
//
// A failed store write is fatal. The writer stops consuming and reports
// the error on Err; the service is expected to exit.
package writer
