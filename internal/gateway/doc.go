// Package gateway bridges browser WebSocket connections to backend shell
// channels.
//
// Each accepted connection becomes a [Session] that moves through
// AwaitingAuth, Authenticating, Ready and Closed. The first "auth" envelope
// redeems a terminal token; on success the session opens a backend channel
// as username#vmId#token and relays bytes in both directions until either
// side goes away. Teardown runs exactly once whatever triggers it: the
// backend is closed, the client receives an optional "error" event followed
// by "disconnected", and the transport is closed.
//
// Control envelopes (JSON text frames):
//
//	client -> gateway  {"type":"auth","username":...,"vmId":...,"terminalToken":...}
//	                   {"type":"resize","data":{"rows":...,"cols":...}}
//	                   {"type":"input","data":"..."}
//	gateway -> client  {"type":"connected"}
//	                   {"type":"output","data":"..."}
//	                   {"type":"error","message":"..."}
//	                   {"type":"disconnected"}
//
// Any client frame that is not one of the envelopes above, and every binary
// frame, is forwarded to the backend verbatim.
package gateway
