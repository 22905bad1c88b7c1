package ws

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"messaging-service/internal/observability"
)

// PresenceListener observes online/offline transitions. Calls happen outside
// the hub lock.
type PresenceListener interface {
	Online(userID int)
	Offline(userID int)
}

// Hub owns the presence registry and the relationship index. One connection
// per account; group fan-out sets only ever contain registered accounts.
type Hub struct {
	mu           sync.RWMutex
	conns        map[int]Conn
	friends      map[int]map[int]struct{}
	userGroups   map[int]map[int]struct{}
	groupMembers map[int]map[int]struct{}

	listener PresenceListener
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:        make(map[int]Conn),
		friends:      make(map[int]map[int]struct{}),
		userGroups:   make(map[int]map[int]struct{}),
		groupMembers: make(map[int]map[int]struct{}),
	}
}

// SetPresenceListener installs a listener; call before serving traffic.
func (h *Hub) SetPresenceListener(listener PresenceListener) {
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()
}

// Register installs conn as the account's only connection. A previous
// connection is closed and returned as superseded; its group fan-out entries
// are dropped so the new session only receives the groups it joins itself.
func (h *Hub) Register(userID int, conn Conn) (superseded Conn) {
	h.mu.Lock()
	prev, existed := h.conns[userID]
	if existed && prev != conn {
		for groupID := range h.userGroups[userID] {
			h.removeMemberLocked(groupID, userID)
		}
	}
	h.conns[userID] = conn
	listener := h.listener
	h.mu.Unlock()

	if existed && prev != conn {
		observability.IncSuperseded()
		zap.L().Info("session superseded", zap.Int("user_id", userID))
		_ = prev.Close()
		superseded = prev
	}
	if listener != nil {
		listener.Online(userID)
	}
	return superseded
}

// Unregister removes the account's connection, drops it from every group
// fan-out set and clears its cached friend and group sets.
func (h *Hub) Unregister(userID int) {
	h.mu.Lock()
	_, existed := h.conns[userID]
	h.unregisterLocked(userID)
	listener := h.listener
	h.mu.Unlock()

	if existed && listener != nil {
		listener.Offline(userID)
	}
}

// Detach unregisters the account only if conn is still its current connection,
// leaving groups first. A superseded session's cleanup is a no-op for the
// registry.
func (h *Hub) Detach(userID int, conn Conn, groupIDs ...int) bool {
	h.mu.Lock()
	current, ok := h.conns[userID]
	if !ok || current != conn {
		h.mu.Unlock()
		return false
	}
	for _, groupID := range groupIDs {
		h.leaveLocked(userID, groupID)
	}
	h.unregisterLocked(userID)
	listener := h.listener
	h.mu.Unlock()

	if listener != nil {
		listener.Offline(userID)
	}
	return true
}

func (h *Hub) unregisterLocked(userID int) {
	delete(h.conns, userID)
	for groupID := range h.userGroups[userID] {
		h.removeMemberLocked(groupID, userID)
	}
	delete(h.userGroups, userID)
	delete(h.friends, userID)
}

// IsOnline reports whether the account has a registered connection.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Push sends event to the account's connection. A send failure is treated as
// a dead connection: it is closed and unregistered if still current.
func (h *Hub) Push(userID int, event any) bool {
	h.mu.RLock()
	conn, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.Send(event); err != nil {
		observability.IncPush(false)
		zap.L().Warn("push failed, dropping connection", zap.Int("user_id", userID), zap.Error(err))
		_ = conn.Close()
		h.Detach(userID, conn)
		return false
	}
	observability.IncPush(true)
	return true
}

// RefreshFriends replaces the cached friend set wholesale.
func (h *Hub) RefreshFriends(userID int, friendIDs []int) {
	set := make(map[int]struct{}, len(friendIDs))
	for _, id := range friendIDs {
		set[id] = struct{}{}
	}
	h.mu.Lock()
	h.friends[userID] = set
	h.mu.Unlock()
}

// RefreshGroups replaces the cached group set wholesale. Fan-out entries for
// groups no longer in the set are dropped; new groups are not joined.
func (h *Hub) RefreshGroups(userID int, groupIDs []int) {
	next := make(map[int]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		next[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for groupID := range h.userGroups[userID] {
		if _, keep := next[groupID]; !keep {
			h.removeMemberLocked(groupID, userID)
		}
	}
	h.userGroups[userID] = next
}

// CachedGroups returns the account's cached group ids in ascending order.
func (h *Hub) CachedGroups(userID int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.userGroups[userID])
}

// AreFriends checks a's cached friend set only.
func (h *Hub) AreFriends(a, b int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.friends[a][b]
	return ok
}

// JoinGroup adds the account to the group's fan-out set. Only registered
// accounts can join.
func (h *Hub) JoinGroup(userID, groupID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[userID]; !ok {
		return false
	}
	groups, ok := h.userGroups[userID]
	if !ok {
		groups = make(map[int]struct{})
		h.userGroups[userID] = groups
	}
	groups[groupID] = struct{}{}

	members, ok := h.groupMembers[groupID]
	if !ok {
		members = make(map[int]struct{})
		h.groupMembers[groupID] = members
	}
	members[userID] = struct{}{}
	return true
}

// LeaveGroup removes the account from both sides of the group index.
func (h *Hub) LeaveGroup(userID, groupID int) {
	h.mu.Lock()
	h.leaveLocked(userID, groupID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(userID, groupID int) {
	if groups, ok := h.userGroups[userID]; ok {
		delete(groups, groupID)
	}
	h.removeMemberLocked(groupID, userID)
}

func (h *Hub) removeMemberLocked(groupID, userID int) {
	members, ok := h.groupMembers[groupID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.groupMembers, groupID)
	}
}

// InGroup reports whether the account is in the group's cached set.
func (h *Hub) InGroup(userID, groupID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userGroups[userID][groupID]
	return ok
}

// GroupMembersOnline returns the registered members of a group, ascending.
func (h *Hub) GroupMembersOnline(groupID int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.groupMembers[groupID]))
	for id := range h.groupMembers[groupID] {
		if _, online := h.conns[id]; online {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// CloseAll closes every registered connection. Sessions clean themselves up
// as their read loops fail.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// OnlineUsers lists every registered account in ascending order.
func (h *Hub) OnlineUsers() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OnlineAmong filters ids down to registered accounts, preserving order.
func (h *Hub) OnlineAmong(ids []int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	online := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := h.conns[id]; ok {
			online = append(online, id)
		}
	}
	return online
}

// OnlineFriends returns the account's cached friends that are online.
func (h *Hub) OnlineFriends(userID int) []int {
	h.mu.RLock()
	friends := sortedKeys(h.friends[userID])
	h.mu.RUnlock()
	return h.OnlineAmong(friends)
}

// ToOne delivers event to a single account.
func (h *Hub) ToOne(userID int, event any) bool {
	return h.Push(userID, event)
}

// ToGroup delivers event to every online member of the group except exclude
// (0 excludes nobody) and returns the number of successful pushes.
func (h *Hub) ToGroup(groupID int, event any, exclude int) int {
	delivered := 0
	for _, id := range h.GroupMembersOnline(groupID) {
		if id == exclude {
			continue
		}
		if h.Push(id, event) {
			delivered++
		}
	}
	observability.ObserveBroadcast(delivered)
	return delivered
}

func sortedKeys(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
