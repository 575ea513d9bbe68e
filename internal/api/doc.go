// Package api provides the price feed client for REST and WebSocket communication.
//
// REST endpoints:
//   - GET {rest_url}/coins: full snapshot of every tracked coin
//
// WebSocket frames:
//   - connected: handshake accepted
//   - coin_update: one coin's latest price
//   - connect_after: server asks the client to stay away until retry_at
//
// A 503 or 429 response carrying Retry-After, on either surface, is reported
// as a *ConnectAfterError.
package api
