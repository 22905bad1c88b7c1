package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusNeverRegresses(t *testing.T) {
	assert.True(t, StatusSent.CanAdvanceTo(StatusDelivered))
	assert.True(t, StatusSent.CanAdvanceTo(StatusRead))
	assert.True(t, StatusDelivered.CanAdvanceTo(StatusRead))

	assert.False(t, StatusDelivered.CanAdvanceTo(StatusSent))
	assert.False(t, StatusRead.CanAdvanceTo(StatusDelivered))
	assert.False(t, StatusRead.CanAdvanceTo(StatusSent))
	assert.False(t, StatusRead.CanAdvanceTo(StatusRead))
	assert.False(t, StatusSent.CanAdvanceTo(MessageStatus("bogus")))
}

func TestEventConstructors(t *testing.T) {
	ev := NewConnectionEstablished(3, &Group{ID: 9, Name: "g"})
	assert.Equal(t, EventConnectionEstablished, ev.Type)
	assert.Equal(t, 9, ev.GroupID)
	assert.Equal(t, "g", ev.GroupName)

	assert.Equal(t, []int{}, NewOnlineFriends(nil).Friends)
	assert.Equal(t, []int{}, NewOnlineMembers(1, nil).Members)
	assert.Equal(t, EventGroupMessage, NewGroupMessageDelivery(GroupMessage{ID: 1}).Type)
}
