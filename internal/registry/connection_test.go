package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
)

func TestEnqueue_OverflowClosesConnection(t *testing.T) {
	conn := newConn("c1", "u1", api.ScopeUser, "")

	for range 4 {
		assert.True(t, conn.Enqueue([]byte("m")))
	}
	assert.False(t, conn.Enqueue([]byte("overflow")))

	code, reason := conn.CloseStatus()
	assert.Equal(t, constants.ClosePolicyViolation, code)
	assert.Equal(t, constants.CloseReasonSlowConsumer, reason)
	assert.False(t, conn.Enqueue([]byte("after close")))
	assert.Len(t, conn.Send(), 4)
}

func TestClose_FirstCallWins(t *testing.T) {
	conn := newConn("c1", "u1", api.ScopeUser, "")

	assert.True(t, conn.Close(constants.CloseGoingAway, "first"))
	assert.False(t, conn.Close(constants.CloseInternalError, "second"))

	code, reason := conn.CloseStatus()
	assert.Equal(t, constants.CloseGoingAway, code)
	assert.Equal(t, "first", reason)
}

func TestInterestedIn(t *testing.T) {
	user := newConn("u", "u1", api.ScopeUser, "")
	session := newConn("s", "u1", api.ScopeSession, "s1")
	machine := newConn("m", "u1", api.ScopeMachine, "m1")

	assert.True(t, user.InterestedIn("anything"))
	assert.True(t, session.InterestedIn("s1"))
	assert.False(t, session.InterestedIn("s2"))
	assert.False(t, machine.InterestedIn("s1"))

	machine.Subscribe("s1")
	session.Subscribe("s2")
	assert.True(t, machine.InterestedIn("s1"))
	assert.True(t, session.InterestedIn("s2"))
}

func TestAckNeverMovesBackwards(t *testing.T) {
	conn := newConn("c1", "u1", api.ScopeUser, "")
	stream := api.SessionStream("u1", "s1")

	assert.Zero(t, conn.LastAck(stream))
	conn.Ack(stream, 5)
	conn.Ack(stream, 3)
	assert.Equal(t, int64(5), conn.LastAck(stream))
	assert.Zero(t, conn.LastAck(api.UserStream("u1")))
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "u1/user-scoped", newConn("a", "u1", api.ScopeUser, "").Identity())
	assert.Equal(t, "u1/session-scoped/s1", newConn("a", "u1", api.ScopeSession, "s1").Identity())
	assert.Equal(t, "u1/machine-scoped/m1", newConn("a", "u1", api.ScopeMachine, "m1").Identity())
}
