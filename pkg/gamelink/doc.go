// Package gamelink maintains a single logical, continuously-available
// connection to a game server over an unreliable network, with topic
// subscriptions layered on top.
//
// The Session owns the one physical connection and its lifecycle. Concurrent
// callers asking for a connection collapse onto a single open attempt; topics
// subscribed before a disconnection are resynchronized transparently after
// reconnection. Silent connection death is detected from both sides: every
// sent message must be echoed back within a timeout, and every connection
// must produce some inbound frame within an inactivity window, or the
// connection is force-renewed.
//
// How the server closes the connection determines how the session recovers.
// Network blips reconnect immediately, credential expiry reconnects after a
// refresh, rate limiting imposes a mandatory cooldown, and unrecognized
// closures are surfaced verbatim and never retried.
package gamelink
