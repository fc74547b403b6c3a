// Package belabox maintains the remote-control session with BELABOX
// Cloud. A [Client] owns a single WebSocket connection to the relay,
// authenticates with the remote key, keeps the connection alive, and
// reconnects with capped exponential backoff whenever it drops.
//
// Inbound frames are decoded into typed [Message] values and broadcast
// to every subscriber; slow subscribers miss messages rather than
// blocking the read loop. Outbound [Request] values are serialized
// through a single guarded writer so command and keepalive frames are
// never interleaved, and every submitted request resolves exactly once
// — with [ErrDisconnected] when there is no live connection.
package belabox
