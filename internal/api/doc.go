// Package api implements the device's local HTTP API and WebSocket feed.
//
// Routes live under /api/v1:
//
//	GET  /health        200 while the broker session is connected, 503 otherwise
//	GET  /device        id, host, opaque info block, session snapshot
//	GET  /status        current component snapshot
//	GET  /journal       journalled envelopes (?limit=&direction=&topic=)
//	POST /instructions  perform instruction contents locally (200 or 422)
//	GET  /ws            WebSocket feed (?channels=envelopes,instructions,session)
//
// The Hub doubles as a session.Recorder, so every envelope the device sends
// or receives reaches subscribed WebSocket clients.
//
// The server binds to 127.0.0.1 by default and carries no authentication.
package api
