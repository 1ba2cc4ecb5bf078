package gamelink

import "encoding/json"

// Topic identifies a channel of server-pushed updates. The topic set is a
// closed enumeration agreed with the server.
type Topic string

const (
	TopicInvites Topic = "invites"
	TopicGame    Topic = "game"
)

// routeEcho is the route carried by acknowledgment frames in both directions.
// Echo frames are never themselves acknowledged.
const routeEcho = "echo"

// outFrame is the JSON shape of an outbound message. Acknowledgments carry
// only a route and the acknowledged id; everything else is stamped with a
// locally-unique id and a routed body.
type outFrame struct {
	ID       int64  `json:"id,omitempty"`
	Route    string `json:"route,omitempty"`
	Contents any    `json:"contents,omitempty"`
}

// frameBody is the contents of an outbound routed frame.
type frameBody struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// inFrame is the parsed shape of an inbound frame. Pointer fields distinguish
// absent from zero, which matters for reply-only frames.
type inFrame struct {
	ID       *int64          `json:"id,omitempty"`
	Route    string          `json:"route,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
	ReplyTo  *int64          `json:"replyto,omitempty"`
}

// inBody mirrors frameBody for inbound routed frames. The value stays raw so
// each topic handler decodes its own payload.
type inBody struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

func echoFrame(id int64) outFrame {
	return outFrame{Route: routeEcho, Contents: id}
}
