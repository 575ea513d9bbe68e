// Package publish mirrors the store's change stream into Redis.
//
// Every committed change is published as one JSON message on a channel and
// the latest record of each coin is kept in a hash keyed by symbol, so
// other processes can read current prices without opening the store.
package publish
