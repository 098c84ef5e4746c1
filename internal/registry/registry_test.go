package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/metrics"
	"github.com/enflame-media/syncrelay/internal/testutil"
)

var epoch = time.Unix(1_700_000_000, 0)

func newConn(id, userID string, scope api.Scope, boundID string) *Connection {
	opts := ConnectionOptions{ID: id, Scope: scope, SendBufferSize: 4, Now: epoch}
	switch scope {
	case api.ScopeSession:
		opts.SessionID = boundID
	case api.ScopeMachine:
		opts.MachineID = boundID
	}
	conn := NewConnection(opts)
	conn.SetAuthenticated(userID)
	return conn
}

func newTestRegistry(maxPerUser int) (*Registry, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.MaxConnectionsPerUser = maxPerUser
	return New(cfg, m, testutil.SilentLogger()), m
}

func TestRegister_ConnectionLimit(t *testing.T) {
	reg, m := newTestRegistry(3)

	for i := range 3 {
		require.NoError(t, reg.Register(newConn(fmt.Sprintf("c%d", i), "u1", api.ScopeUser, "")))
	}

	err := reg.Register(newConn("c3", "u1", api.ScopeUser, ""))
	require.Error(t, err)
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeConnectionLimitExceeded)
	testutil.AssertCloseCode(t, err, constants.CloseConnectionLimitExceeded)

	require.NoError(t, reg.Register(newConn("other", "u2", api.ScopeUser, "")), "other users are unaffected")

	connections, users := reg.Stats()
	assert.Equal(t, 4, connections)
	assert.Equal(t, 2, users)
	assert.InDelta(t, 1, promtest.ToFloat64(m.ConnectionsRejected.WithLabelValues(apperrors.ErrCodeConnectionLimitExceeded)), 0)
}

func TestRegister_ConcurrentUsersAreIndependent(t *testing.T) {
	const limit = 5
	reg, _ := newTestRegistry(limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[string]int{}
		rejected = map[string]int{}
	)
	for _, user := range []string{"u1", "u2"} {
		attempts := limit + 1
		if user == "u2" {
			attempts = limit
		}
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := reg.Register(newConn(fmt.Sprintf("%s-%d", user, i), user, api.ScopeUser, ""))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeConnectionLimitExceeded)
					rejected[user]++
					return
				}
				accepted[user]++
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, limit, accepted["u1"])
	assert.Equal(t, 1, rejected["u1"])
	assert.Equal(t, limit, accepted["u2"])
	assert.Zero(t, rejected["u2"])
}

func TestRegister_DuplicatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		first   *Connection
		second  *Connection
		wantErr bool
	}{
		{
			name:   "user scoped duplicates allowed",
			first:  newConn("a", "u1", api.ScopeUser, ""),
			second: newConn("b", "u1", api.ScopeUser, ""),
		},
		{
			name:   "session scoped duplicates allowed",
			first:  newConn("a", "u1", api.ScopeSession, "s1"),
			second: newConn("b", "u1", api.ScopeSession, "s1"),
		},
		{
			name:    "machine scoped duplicate rejected",
			first:   newConn("a", "u1", api.ScopeMachine, "m1"),
			second:  newConn("b", "u1", api.ScopeMachine, "m1"),
			wantErr: true,
		},
		{
			name:   "different machines are not duplicates",
			first:  newConn("a", "u1", api.ScopeMachine, "m1"),
			second: newConn("b", "u1", api.ScopeMachine, "m2"),
		},
		{
			name:   "same machine of another user is not a duplicate",
			first:  newConn("a", "u1", api.ScopeMachine, "m1"),
			second: newConn("b", "u2", api.ScopeMachine, "m1"),
		},
		{
			name:    "same connection id twice",
			first:   newConn("a", "u1", api.ScopeUser, ""),
			second:  newConn("a", "u1", api.ScopeUser, ""),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(10)
			require.NoError(t, reg.Register(tt.first))

			err := reg.Register(tt.second)
			if tt.wantErr {
				require.Error(t, err)
				testutil.AssertCloseCode(t, err, constants.CloseDuplicateConnection)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegister_RequiresAuthentication(t *testing.T) {
	reg, _ := newTestRegistry(10)

	err := reg.Register(NewConnection(ConnectionOptions{ID: "anon"}))

	require.Error(t, err)
	testutil.AssertCloseCode(t, err, constants.CloseAuthFailed)
}

func TestUnregister(t *testing.T) {
	reg, m := newTestRegistry(1)
	conn := newConn("c1", "u1", api.ScopeUser, "")
	require.NoError(t, reg.Register(conn))

	assert.True(t, reg.Unregister("c1"))
	assert.False(t, reg.Unregister("c1"), "second unregister is a no-op")

	_, ok := reg.Get("c1")
	assert.False(t, ok)
	connections, users := reg.Stats()
	assert.Zero(t, connections)
	assert.Zero(t, users)
	assert.InDelta(t, 0, promtest.ToFloat64(m.UsersActive), 0)

	require.NoError(t, reg.Register(newConn("c2", "u1", api.ScopeUser, "")), "slot is freed")
}

func TestFind(t *testing.T) {
	reg, _ := newTestRegistry(10)
	userConn := newConn("user", "u1", api.ScopeUser, "")
	sessionConn := newConn("session", "u1", api.ScopeSession, "s1")
	otherSession := newConn("other-session", "u1", api.ScopeSession, "s2")
	machineConn := newConn("machine", "u1", api.ScopeMachine, "m1")
	foreign := newConn("foreign", "u2", api.ScopeUser, "")
	for _, conn := range []*Connection{userConn, sessionConn, otherSession, machineConn, foreign} {
		require.NoError(t, reg.Register(conn))
	}
	machineConn.Subscribe("s1")

	ids := func(conns []*Connection) []string {
		out := make([]string, 0, len(conns))
		for _, c := range conns {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "interested in session",
			filter: Filter{UserID: "u1", Kind: AllInterestedInSession, SessionID: "s1"},
			want:   []string{"user", "session", "machine"},
		},
		{
			name:   "interested in session skipping sender",
			filter: Filter{UserID: "u1", Kind: AllInterestedInSession, SessionID: "s1", SkipConnectionID: "machine"},
			want:   []string{"user", "session"},
		},
		{
			name:   "user scoped only",
			filter: Filter{UserID: "u1", Kind: UserScopedOnly},
			want:   []string{"user"},
		},
		{
			name:   "all authenticated",
			filter: Filter{UserID: "u1", Kind: AllUserAuthenticatedConnections, SkipConnectionID: "user"},
			want:   []string{"session", "other-session", "machine"},
		},
		{
			name:   "unknown user",
			filter: Filter{UserID: "nobody", Kind: AllUserAuthenticatedConnections},
			want:   nil,
		},
		{
			name:   "session filter without session",
			filter: Filter{UserID: "u1", Kind: AllInterestedInSession},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Find(tt.filter)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}

	machineConn.Unsubscribe("s1")
	assert.ElementsMatch(t, []string{"user", "session"},
		ids(reg.Find(Filter{UserID: "u1", Kind: AllInterestedInSession, SessionID: "s1"})))
}

func TestReapIdle(t *testing.T) {
	reg, m := newTestRegistry(10)
	stale := newConn("stale", "u1", api.ScopeUser, "")
	fresh := newConn("fresh", "u1", api.ScopeUser, "")
	require.NoError(t, reg.Register(stale))
	require.NoError(t, reg.Register(fresh))

	now := epoch.Add(6 * time.Minute)
	fresh.Touch(now.Add(-time.Minute))

	reaped := reg.ReapIdle(now)

	assert.Equal(t, 1, reaped)
	_, ok := reg.Get("stale")
	assert.False(t, ok)
	_, ok = reg.Get("fresh")
	assert.True(t, ok)

	select {
	case <-stale.Done():
	default:
		t.Fatal("idle connection was not closed")
	}
	code, reason := stale.CloseStatus()
	assert.Equal(t, constants.CloseGoingAway, code)
	assert.Equal(t, constants.CloseReasonIdleTimeout, reason)
	assert.InDelta(t, 1, promtest.ToFloat64(m.ConnectionsClosed.WithLabelValues("1001")), 0)
}

func TestCloseAll(t *testing.T) {
	reg, _ := newTestRegistry(10)
	a := newConn("a", "u1", api.ScopeUser, "")
	b := newConn("b", "u2", api.ScopeUser, "")
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	assert.Equal(t, 2, reg.CloseAll(constants.CloseGoingAway, constants.CloseReasonShutdown))

	code, _ := b.CloseStatus()
	assert.Equal(t, constants.CloseGoingAway, code)
	connections, _ := reg.Stats()
	assert.Zero(t, connections)
}
