// Package model defines shared data types used across the coin tracker.
//
// Conventions:
//   - Prices: shopspring decimal values, never float64
//   - Timestamps: int64 microseconds since Unix epoch
//   - Symbols: upper-case coin codes (e.g. "BTC"), the primary key everywhere
package model
