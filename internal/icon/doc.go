// Package icon fetches coin icons over HTTP.
//
// Fetches are cached in memory and de-duplicated per URL. Each display slot
// (a coin symbol) has at most one outstanding load; starting a new load for
// a slot cancels the previous one, the way a recycled table row drops the
// image it was waiting for.
package icon
