package gamelink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutedFrameDispatchedAndEchoed(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.session.Subscribe(TopicGame)
	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	conn.deliver(`{"id":55,"route":"game","contents":{"action":"move","value":{"from":"e2","to":"e4"}}}`)

	frames := conn.writtenFrames()
	require.Len(t, frames, 1, "every routed inbound frame is acknowledged")
	assert.JSONEq(t, `{"route":"echo","contents":55}`, frames[0])

	assert.Equal(t, []string{"move"}, rig.game.receivedActions())
	assert.Empty(t, rig.invites.receivedActions())
}

func TestMalformedFrameDropped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	conn.deliver(`{not json`)

	assert.Equal(t, int64(1), rig.metrics.counterValue("gamelink_frames_dropped_total"))
	assert.Empty(t, conn.writtenFrames(), "a malformed frame is never acknowledged")
	assert.True(t, rig.session.Connected(), "a malformed frame does not kill the connection")
}

func TestFrameWithoutRouteOrReplyToDropped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	conn.deliver(`{"id":3}`)

	assert.Equal(t, int64(1), rig.metrics.counterValue("gamelink_frames_dropped_total"))
	assert.Empty(t, conn.writtenFrames())
}

func TestEchoForUnknownMessageHarmless(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	conn.deliver(`{"route":"echo","contents":999}`)

	assert.Empty(t, conn.writtenFrames())
	assert.True(t, rig.session.Connected())
}

func TestUnknownTopicStillEchoed(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	conn.deliver(`{"id":7,"route":"lobby","contents":{"action":"hello"}}`)

	frames := conn.writtenFrames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"route":"echo","contents":7}`, frames[0])
}

func TestInboundFramesExtendInactivityDeadline(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.session.Subscribe(TopicGame)
	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()

	rig.clock.advance(DefaultInactivityWindow - time.Second)
	conn.deliver(`{"id":1,"route":"game","contents":{"action":"tick"}}`)

	rig.clock.advance(DefaultInactivityWindow - time.Second)
	closed, _ := conn.isClosed()
	assert.False(t, closed, "traffic within the window keeps the connection alive")

	rig.clock.advance(time.Second)
	closed, reason := conn.isClosed()
	assert.True(t, closed, "silence past the pushed-back deadline forces renewal")
	assert.Equal(t, closeRenew, reason)
}

func TestStaleConnectionFramesIgnored(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.True(t, rig.session.Establish(ctx))
	conn := rig.dialer.lastConn()
	received := rig.metrics.counterValue("gamelink_frames_received_total")

	conn.serverClose(StatusAbnormalClosure, "")
	conn.deliver(`{"id":9,"route":"game","contents":{"action":"move"}}`)

	assert.Equal(t, received, rig.metrics.counterValue("gamelink_frames_received_total"))
	assert.Empty(t, rig.game.receivedActions())
	assert.Empty(t, conn.writtenFrames())
}
