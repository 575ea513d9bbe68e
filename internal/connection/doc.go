// Package connection implements the price stream connection and its
// reconnect policy.
//
// The Manager:
//   - Dials a single WebSocket stream and forwards every frame as an Event
//   - On a retry-after failure schedules exactly one retry at the named time
//   - On any other connect failure logs and stays disconnected
//   - On a dropped stream emits EventDisconnected and reconnects at once
package connection
