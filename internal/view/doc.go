// Package view turns stored coin records into display values.
//
// It holds the non-UI half of the presentation layer: price formatting,
// per-coin display rows, and a list model that mirrors the store's change
// stream and reports the direction each modified price moved.
package view
