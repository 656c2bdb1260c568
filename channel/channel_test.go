package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forattini-dev/raffel-sub006/envelope"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypePresence, TypeOf("presence-room-42"))
	assert.Equal(t, TypePrivate, TypeOf("private-dm-1"))
	assert.Equal(t, TypePublic, TypeOf("announcements"))
}

func TestSubscribe_PublicChannelNeedsNoAuthorize(t *testing.T) {
	m := New(0)
	res, err := m.Subscribe("sock-1", "announcements", nil)
	require.NoError(t, err)
	assert.Equal(t, TypePublic, res.Type)
	assert.Equal(t, 1, m.SubscriberCount("announcements"))
}

func TestSubscribe_PrivateChannelDeniedWithoutAuthorize(t *testing.T) {
	m := New(0)
	_, err := m.Subscribe("sock-1", "private-dm-1", nil)
	require.Error(t, err)
}

func TestSubscribe_PresenceFlowBroadcastsMemberAdded(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	m := New(0)
	m.Authorize = func(socketID, channel string, ctx *envelope.Context) bool { return true }
	m.PresenceData = func(socketID, channel string, ctx *envelope.Context) map[string]interface{} {
		return map[string]interface{}{"name": "Ada"}
	}
	m.Send = func(socketID string, evt Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
	}

	_, err := m.Subscribe("sock-B", "presence-room-42", nil)
	require.NoError(t, err)

	resA, err := m.Subscribe("sock-A", "presence-room-42", nil)
	require.NoError(t, err)
	require.Len(t, resA.Members, 2, "subscribe response includes self plus existing member")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "only the pre-existing subscriber receives member_added")
	assert.Equal(t, "member_added", received[0].Event)
	data := received[0].Data.(map[string]interface{})
	assert.Equal(t, "sock-A", data["id"])
}

func TestSubscribe_AlreadySubscribedReturnsCurrentMembers(t *testing.T) {
	m := New(0)
	m.Authorize = func(string, string, *envelope.Context) bool { return true }

	_, err := m.Subscribe("sock-A", "presence-room", nil)
	require.NoError(t, err)
	res, err := m.Subscribe("sock-A", "presence-room", nil)
	require.NoError(t, err)
	assert.Len(t, res.Members, 1)
}

func TestUnsubscribe_RemovesChannelWhenEmpty(t *testing.T) {
	m := New(0)
	_, err := m.Subscribe("sock-1", "announcements", nil)
	require.NoError(t, err)
	require.NoError(t, m.Unsubscribe("sock-1", "announcements"))
	assert.Equal(t, 0, m.SubscriberCount("announcements"))
}

func TestUnsubscribe_PresenceBroadcastsMemberRemoved(t *testing.T) {
	var received []Event
	m := New(0)
	m.Authorize = func(string, string, *envelope.Context) bool { return true }
	m.Send = func(socketID string, evt Event) { received = append(received, evt) }

	_, err := m.Subscribe("sock-A", "presence-room", nil)
	require.NoError(t, err)
	_, err = m.Subscribe("sock-B", "presence-room", nil)
	require.NoError(t, err)

	received = nil
	require.NoError(t, m.Unsubscribe("sock-B", "presence-room"))
	require.Len(t, received, 1)
	assert.Equal(t, "member_removed", received[0].Event)
}

func TestUnsubscribeAll_ClearsEveryChannelForSocket(t *testing.T) {
	m := New(0)
	_, err := m.Subscribe("sock-1", "a", nil)
	require.NoError(t, err)
	_, err = m.Subscribe("sock-1", "b", nil)
	require.NoError(t, err)

	m.UnsubscribeAll("sock-1")
	assert.Equal(t, 0, m.SubscriberCount("a"))
	assert.Equal(t, 0, m.SubscriberCount("b"))
}

func TestBroadcast_ExcludesGivenSocket(t *testing.T) {
	var received []string
	m := New(0)
	m.Send = func(socketID string, evt Event) { received = append(received, socketID) }

	_, _ = m.Subscribe("sock-A", "announcements", nil)
	_, _ = m.Subscribe("sock-B", "announcements", nil)

	m.Broadcast("announcements", "ping", nil, "sock-A")
	assert.Equal(t, []string{"sock-B"}, received)
}

func TestPublish_RequiresPriorSubscription(t *testing.T) {
	m := New(0)
	err := m.Publish("sock-1", "announcements", "msg", "hi", nil)
	assert.Error(t, err)
}

func TestPublish_OnPublishHookCanDeny(t *testing.T) {
	m := New(0)
	m.OnPublish = func(string, string, string, interface{}, *envelope.Context) bool { return false }
	_, err := m.Subscribe("sock-1", "announcements", nil)
	require.NoError(t, err)

	err = m.Publish("sock-1", "announcements", "msg", "hi", nil)
	assert.Error(t, err)
}

func TestSnapshot_KeepsBoundedHistory(t *testing.T) {
	m := New(2)
	_, _ = m.Subscribe("sock-1", "announcements", nil)
	m.Broadcast("announcements", "e1", 1, "")
	m.Broadcast("announcements", "e2", 2, "")
	m.Broadcast("announcements", "e3", 3, "")

	hist := m.Snapshot("announcements")
	require.Len(t, hist, 2)
	assert.Equal(t, "e2", hist[0].Event)
	assert.Equal(t, "e3", hist[1].Event)
}
