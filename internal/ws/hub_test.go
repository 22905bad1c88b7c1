package ws

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) Online(userID int) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf("online:%d", userID))
	l.mu.Unlock()
}

func (l *recordingListener) Offline(userID int) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf("offline:%d", userID))
	l.mu.Unlock()
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	listener := &recordingListener{}
	hub.SetPresenceListener(listener)

	hub.Register(1, mocks.NewRecordingConn())
	assert.True(t, hub.IsOnline(1))

	hub.RefreshFriends(1, []int{2})
	hub.JoinGroup(1, 10)
	hub.JoinGroup(1, 11)

	hub.Unregister(1)
	assert.False(t, hub.IsOnline(1))
	assert.Empty(t, hub.GroupMembersOnline(10))
	assert.Empty(t, hub.GroupMembersOnline(11))
	assert.False(t, hub.AreFriends(1, 2))
	assert.False(t, hub.InGroup(1, 10))
	assert.Equal(t, []string{"online:1", "offline:1"}, listener.events)
}

func TestRegisterSupersedesPreviousConnection(t *testing.T) {
	hub := NewHub()
	first := mocks.NewRecordingConn()
	second := mocks.NewRecordingConn()

	assert.Nil(t, hub.Register(1, first))
	superseded := hub.Register(1, second)

	assert.Same(t, first, superseded)
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())

	// cleanup from the old session must not evict the new one
	assert.False(t, hub.Detach(1, first))
	assert.True(t, hub.IsOnline(1))

	assert.True(t, hub.Push(1, map[string]string{"type": "ping"}))
	assert.Equal(t, []string{"ping"}, second.Types())
	assert.True(t, hub.Detach(1, second))
	assert.False(t, hub.IsOnline(1))
}

func TestSupersedeDropsOldFanout(t *testing.T) {
	hub := NewHub()
	hub.Register(1, mocks.NewRecordingConn())
	hub.RefreshGroups(1, []int{10, 11})
	hub.JoinGroup(1, 10)
	hub.JoinGroup(1, 11)

	hub.Register(1, mocks.NewRecordingConn())

	assert.Empty(t, hub.GroupMembersOnline(10))
	assert.Empty(t, hub.GroupMembersOnline(11))
	assert.Equal(t, []int{10, 11}, hub.CachedGroups(1))
	assert.True(t, hub.InGroup(1, 11))
}

func TestJoinGroupRequiresRegistration(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.JoinGroup(5, 1))
	assert.Empty(t, hub.GroupMembersOnline(1))
}

func TestAreFriendsUsesOwnCacheOnly(t *testing.T) {
	hub := NewHub()
	hub.RefreshFriends(1, []int{2, 3})

	assert.True(t, hub.AreFriends(1, 2))
	assert.False(t, hub.AreFriends(2, 1))

	hub.RefreshFriends(1, []int{3})
	assert.False(t, hub.AreFriends(1, 2))
}

func TestRefreshGroupsPrunesFanout(t *testing.T) {
	hub := NewHub()
	hub.Register(1, mocks.NewRecordingConn())
	hub.JoinGroup(1, 10)
	hub.JoinGroup(1, 11)

	hub.RefreshGroups(1, []int{11, 12})

	assert.Empty(t, hub.GroupMembersOnline(10))
	assert.Equal(t, []int{1}, hub.GroupMembersOnline(11))
	assert.Empty(t, hub.GroupMembersOnline(12))
	assert.Equal(t, []int{11, 12}, hub.CachedGroups(1))
}

func TestToGroupExcludesSender(t *testing.T) {
	hub := NewHub()
	conns := map[int]*mocks.RecordingConn{}
	for _, id := range []int{1, 2, 3} {
		conns[id] = mocks.NewRecordingConn()
		hub.Register(id, conns[id])
		require.True(t, hub.JoinGroup(id, 7))
	}

	delivered := hub.ToGroup(7, map[string]string{"type": "group_message"}, 1)

	assert.Equal(t, 2, delivered)
	assert.Empty(t, conns[1].Events())
	assert.Len(t, conns[2].Events(), 1)
	assert.Len(t, conns[3].Events(), 1)

	assert.Equal(t, 3, hub.ToGroup(7, map[string]string{"type": "x"}, 0))
}

func TestToGroupAfterDisconnect(t *testing.T) {
	hub := NewHub()
	leader := mocks.NewRecordingConn()
	member := mocks.NewRecordingConn()
	hub.Register(1, leader)
	hub.Register(2, member)
	hub.JoinGroup(1, 9)
	hub.JoinGroup(2, 9)

	hub.Unregister(2)

	assert.Equal(t, []int{1}, hub.GroupMembersOnline(9))
	assert.Equal(t, 0, hub.ToGroup(9, map[string]string{"type": "group_message"}, 1))
	assert.Empty(t, member.Events())
}

func TestPushFailureUnregisters(t *testing.T) {
	hub := NewHub()
	conn := mocks.NewRecordingConn()
	hub.Register(1, conn)
	hub.JoinGroup(1, 3)
	conn.Fail()

	assert.False(t, hub.Push(1, map[string]string{"type": "x"}))
	assert.False(t, hub.IsOnline(1))
	assert.True(t, conn.Closed())
	assert.Empty(t, hub.GroupMembersOnline(3))

	assert.False(t, hub.Push(1, map[string]string{"type": "x"}))
}

func TestPushPreservesOrderPerRecipient(t *testing.T) {
	hub := NewHub()
	conn := mocks.NewRecordingConn()
	hub.Register(2, conn)

	hub.ToOne(2, map[string]any{"type": "typing_indicator", "is_typing": true})
	hub.ToOne(2, map[string]any{"type": "typing_indicator", "is_typing": false})

	events := conn.Events()
	require.Len(t, events, 2)
	assert.Equal(t, true, events[0]["is_typing"])
	assert.Equal(t, false, events[1]["is_typing"])
}

func TestOnlineFriends(t *testing.T) {
	hub := NewHub()
	hub.Register(2, mocks.NewRecordingConn())
	hub.Register(4, mocks.NewRecordingConn())
	hub.RefreshFriends(1, []int{4, 3, 2})

	assert.Equal(t, []int{2, 4}, hub.OnlineFriends(1))
	assert.Equal(t, []int{4, 2}, hub.OnlineAmong([]int{4, 3, 2}))
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn := mocks.NewRecordingConn()
			hub.Register(id, conn)
			hub.JoinGroup(id, 1)
			hub.ToGroup(1, map[string]string{"type": "x"}, id)
			hub.Detach(id, conn, 1)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, hub.GroupMembersOnline(1))
	for i := 1; i <= 50; i++ {
		assert.False(t, hub.IsOnline(i))
	}
}

func TestLeaveGroup(t *testing.T) {
	hub := NewHub()
	hub.Register(1, mocks.NewRecordingConn())
	hub.JoinGroup(1, 4)

	hub.LeaveGroup(1, 4)

	assert.False(t, hub.InGroup(1, 4))
	assert.Empty(t, hub.GroupMembersOnline(4))
	assert.True(t, hub.IsOnline(1))
}

func TestCloseAllClosesEveryConnection(t *testing.T) {
	hub := NewHub()
	a := mocks.NewRecordingConn()
	b := mocks.NewRecordingConn()
	hub.Register(2, a)
	hub.Register(1, b)

	assert.Equal(t, []int{1, 2}, hub.OnlineUsers())
	hub.CloseAll()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin header", allowed: []string{"https://app.example"}, want: true},
		{name: "no restriction", origin: "https://evil.example", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://any.example", want: true},
		{name: "listed", allowed: []string{"https://app.example"}, origin: "https://APP.example", want: true},
		{name: "unlisted", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(req))
		})
	}
}
