package gamelink

import "time"

// CloseReason is the closed set of reasons a connection can end, parsed from
// the (code, reason) pair delivered with the close event. The wire strings
// are bit-compatible with the counterpart server and must not change.
type CloseReason int

const (
	ReasonUnknown         CloseReason = iota
	ReasonAbnormal                    // transport code 1006, no reason string
	ReasonExpired                     // "Connection expired"
	ReasonClientClosure               // "Connection closed by client"
	ReasonRenew                       // "Connection closed by client. Renew."
	ReasonNoIP                        // "Unable to identify client IP address"
	ReasonAuthNeeded                  // "Authentication needed"
	ReasonLoggedOut                   // "Logged out"
	ReasonTooManyRequests             // "Too Many Requests. Try again soon."
	ReasonMessageTooBig               // "Message Too Big"
	ReasonTooManySockets              // "Too Many Sockets"
	ReasonOriginError                 // "Origin Error"
	ReasonNoEcho                      // "No echo heard"
)

// Wire close reason strings. Exact bytes matter.
const (
	closeExpired         = "Connection expired"
	closeClientClosure   = "Connection closed by client"
	closeRenew           = "Connection closed by client. Renew."
	closeNoIP            = "Unable to identify client IP address"
	closeAuthNeeded      = "Authentication needed"
	closeLoggedOut       = "Logged out"
	closeTooManyRequests = "Too Many Requests. Try again soon."
	closeMessageTooBig   = "Message Too Big"
	closeTooManySockets  = "Too Many Sockets"
	closeOriginError     = "Origin Error"
	closeNoEcho          = "No echo heard"
)

// Transport-level close codes.
const (
	statusNormalClosure = 1000

	// StatusAbnormalClosure is reported when a connection dies without a
	// close frame (network interruption).
	StatusAbnormalClosure = 1006
)

// ParseCloseReason maps a wire (code, reason) pair onto the CloseReason enum.
func ParseCloseReason(code int, reason string) CloseReason {
	switch reason {
	case closeExpired:
		return ReasonExpired
	case closeClientClosure:
		return ReasonClientClosure
	case closeRenew:
		return ReasonRenew
	case closeNoIP:
		return ReasonNoIP
	case closeAuthNeeded:
		return ReasonAuthNeeded
	case closeLoggedOut:
		return ReasonLoggedOut
	case closeTooManyRequests:
		return ReasonTooManyRequests
	case closeMessageTooBig:
		return ReasonMessageTooBig
	case closeTooManySockets:
		return ReasonTooManySockets
	case closeOriginError:
		return ReasonOriginError
	case closeNoEcho:
		return ReasonNoEcho
	case "":
		if code == StatusAbnormalClosure {
			return ReasonAbnormal
		}
		return ReasonUnknown
	default:
		return ReasonUnknown
	}
}

// String returns the wire string for server-originated reasons and a
// descriptive label otherwise.
func (r CloseReason) String() string {
	switch r {
	case ReasonAbnormal:
		return "Abnormal closure"
	case ReasonExpired:
		return closeExpired
	case ReasonClientClosure:
		return closeClientClosure
	case ReasonRenew:
		return closeRenew
	case ReasonNoIP:
		return closeNoIP
	case ReasonAuthNeeded:
		return closeAuthNeeded
	case ReasonLoggedOut:
		return closeLoggedOut
	case ReasonTooManyRequests:
		return closeTooManyRequests
	case ReasonMessageTooBig:
		return closeMessageTooBig
	case ReasonTooManySockets:
		return closeTooManySockets
	case ReasonOriginError:
		return closeOriginError
	case ReasonNoEcho:
		return closeNoEcho
	default:
		return "Unknown"
	}
}

// ActionKind is what the session should do about a closure.
type ActionKind int

const (
	// ActionNone means the closure was expected; nothing to recover.
	ActionNone ActionKind = iota
	// ActionReconnect reconnects immediately.
	ActionReconnect
	// ActionRefreshAndReconnect renews the credential before reconnecting.
	ActionRefreshAndReconnect
	// ActionCooldown notifies the user, refuses new attempts for Cooldown,
	// then resumes subscription-driven reconnection.
	ActionCooldown
	// ActionFatal surfaces the closure verbatim and never auto-retries.
	ActionFatal
)

// RecoveryAction is the classified response to one closure.
type RecoveryAction struct {
	Kind         ActionKind
	Cooldown     time.Duration
	Notice       string
	ClearInvites bool // drop pending invite state alongside the notice
	LostSignal   bool // raise the connection-lost signal for the UI
}

// Cooldowns imposed by server-signaled throttling conditions.
const (
	cooldownTooManyRequests = time.Minute
	cooldownMessageTooBig   = 10 * time.Second
	cooldownTooManySockets  = time.Minute
	cooldownOriginError     = time.Minute
	cooldownNoIP            = time.Minute
)

// Classify maps a closure onto its recovery action. wasOpen reports whether
// the connection had completed its handshake before dying: an abnormal
// closure during the initial handshake belongs to the dial retry loop, never
// to instant reconnection.
//
// An unrecognized (code, reason) pair is fatal. Auto-retrying against a
// server speaking an incompatible protocol version would reconnect forever.
func Classify(code int, reason string, wasOpen bool) RecoveryAction {
	switch ParseCloseReason(code, reason) {
	case ReasonAbnormal:
		if wasOpen {
			return RecoveryAction{Kind: ActionReconnect}
		}
		return RecoveryAction{Kind: ActionNone}
	case ReasonExpired, ReasonAuthNeeded, ReasonLoggedOut:
		return RecoveryAction{Kind: ActionRefreshAndReconnect}
	case ReasonClientClosure:
		return RecoveryAction{Kind: ActionNone}
	case ReasonRenew:
		return RecoveryAction{Kind: ActionReconnect}
	case ReasonNoEcho:
		return RecoveryAction{Kind: ActionReconnect, LostSignal: true}
	case ReasonTooManyRequests:
		return RecoveryAction{Kind: ActionCooldown, Cooldown: cooldownTooManyRequests, Notice: NoticeTooManyRequests}
	case ReasonMessageTooBig:
		return RecoveryAction{Kind: ActionCooldown, Cooldown: cooldownMessageTooBig, Notice: NoticeMessageTooBig}
	case ReasonTooManySockets:
		return RecoveryAction{Kind: ActionCooldown, Cooldown: cooldownTooManySockets, Notice: NoticeTooManySockets}
	case ReasonOriginError:
		return RecoveryAction{Kind: ActionCooldown, Cooldown: cooldownOriginError, Notice: NoticeOriginError, ClearInvites: true}
	case ReasonNoIP:
		return RecoveryAction{Kind: ActionCooldown, Cooldown: cooldownNoIP, Notice: NoticeNoIP, ClearInvites: true}
	default:
		return RecoveryAction{Kind: ActionFatal}
	}
}
