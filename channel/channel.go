// Package channel implements the Pusher-style public/private/presence
// channel subsystem: subscription bookkeeping, presence member tracking,
// and broadcast fan-out (§4.4). It is transport-agnostic; wsproto calls
// into it and supplies the socket→wire delivery callback.
package channel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
)

// Type is a channel's access category, derived from its name's prefix.
type Type string

const (
	TypePublic   Type = "public"
	TypePrivate  Type = "private"
	TypePresence Type = "presence"
)

// TypeOf derives a channel's Type from its name per the presence-/private-
// prefix convention.
func TypeOf(name string) Type {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return TypePresence
	case strings.HasPrefix(name, "private-"):
		return TypePrivate
	default:
		return TypePublic
	}
}

// Member is a presence channel's per-subscriber identity record.
type Member struct {
	ID       string
	UserID   string
	Info     map[string]interface{}
	JoinedAt time.Time
}

// Event is what Broadcast hands to the SendFunc for every subscriber.
type Event struct {
	Channel string                 `json:"channel"`
	Event   string                 `json:"event"`
	Data    interface{}            `json:"data"`
}

// SendFunc delivers an event to one socket. wsproto supplies the concrete
// implementation that writes a wire frame.
type SendFunc func(socketID string, evt Event)

// AuthorizeFunc decides whether socketID may subscribe to channel. A nil
// AuthorizeFunc denies every non-public channel by default (§4.4 step 1).
type AuthorizeFunc func(socketID, channelName string, ctx *envelope.Context) bool

// PresenceDataFunc computes a joining socket's presence info. A nil
// PresenceDataFunc yields an empty object.
type PresenceDataFunc func(socketID, channelName string, ctx *envelope.Context) map[string]interface{}

// OnPublishFunc gates a client-originated publish. A nil OnPublishFunc
// allows every publish from an already-subscribed socket.
type OnPublishFunc func(socketID, channelName, event string, data interface{}, ctx *envelope.Context) bool

type channelState struct {
	name        string
	typ         Type
	subscribers map[string]struct{}
	members     map[string]Member
	createdAt   time.Time
}

// Manager is the Pusher-style channel registry: subscribe/unsubscribe
// state machine, presence tracking, and broadcast fan-out, serialized by a
// single manager-wide lock per §4.4 ("manager-wide is acceptable ...
// since broadcasts dominate and are small").
type Manager struct {
	Authorize    AuthorizeFunc
	PresenceData PresenceDataFunc
	OnPublish    OnPublishFunc
	Send         SendFunc

	mu       sync.Mutex
	channels map[string]*channelState
	// index is the side index socketID -> set of channel names, for O(1)
	// disconnect cleanup (§3).
	index map[string]map[string]struct{}

	// snapshots holds a bounded ring of recent broadcasts per channel, a
	// debug aid beyond the distilled spec (SPEC_FULL §1.3).
	snapshots    map[string][]Event
	snapshotSize int
}

// New builds an empty Manager. snapshotSize bounds the per-channel debug
// history kept by Snapshot; zero disables it.
func New(snapshotSize int) *Manager {
	return &Manager{
		channels:     make(map[string]*channelState),
		index:        make(map[string]map[string]struct{}),
		snapshots:    make(map[string][]Event),
		snapshotSize: snapshotSize,
	}
}

// SubscribeResult is returned on a successful Subscribe call.
type SubscribeResult struct {
	Channel string
	Type    Type
	Members []Member // populated for presence channels only
}

// Subscribe admits socketID to channel, creating it on first subscriber,
// per the §4.4 subscribe protocol.
func (m *Manager) Subscribe(socketID, name string, ctx *envelope.Context) (*SubscribeResult, error) {
	typ := TypeOf(name)

	if !m.authorized(socketID, name, typ, ctx) {
		return nil, raffelerr.New(raffelerr.CodePermissionDenied, "not authorized to subscribe to "+name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		ch = &channelState{
			name:        name,
			typ:         typ,
			subscribers: make(map[string]struct{}),
			createdAt:   time.Now(),
		}
		if typ == TypePresence {
			ch.members = make(map[string]Member)
		}
		m.channels[name] = ch
	}

	if _, already := ch.subscribers[socketID]; already {
		return &SubscribeResult{Channel: name, Type: typ, Members: sortedMembers(ch.members)}, nil
	}

	ch.subscribers[socketID] = struct{}{}
	if m.index[socketID] == nil {
		m.index[socketID] = make(map[string]struct{})
	}
	m.index[socketID][name] = struct{}{}

	var members []Member
	if typ == TypePresence {
		info := map[string]interface{}{}
		if m.PresenceData != nil {
			info = m.PresenceData(socketID, name, ctx)
		}
		member := Member{ID: socketID, Info: info, JoinedAt: time.Now()}
		ch.members[socketID] = member
		m.broadcastLocked(ch, "member_added", map[string]interface{}{
			"id": member.ID, "userId": member.UserID, "info": member.Info,
		}, socketID)
		members = sortedMembers(ch.members)
	}

	return &SubscribeResult{Channel: name, Type: typ, Members: members}, nil
}

func (m *Manager) authorized(socketID, name string, typ Type, ctx *envelope.Context) bool {
	if typ == TypePublic && m.Authorize == nil {
		return true
	}
	if m.Authorize == nil {
		return false
	}
	return m.Authorize(socketID, name, ctx)
}

// Unsubscribe removes socketID from channel, deleting the channel if it
// becomes empty, per §4.4.
func (m *Manager) Unsubscribe(socketID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil
	}
	m.unsubscribeLocked(socketID, ch)
	return nil
}

func (m *Manager) unsubscribeLocked(socketID string, ch *channelState) {
	if _, ok := ch.subscribers[socketID]; !ok {
		return
	}
	delete(ch.subscribers, socketID)
	if subs, ok := m.index[socketID]; ok {
		delete(subs, ch.name)
		if len(subs) == 0 {
			delete(m.index, socketID)
		}
	}

	if ch.typ == TypePresence {
		member, had := ch.members[socketID]
		delete(ch.members, socketID)
		if had {
			m.broadcastLocked(ch, "member_removed", map[string]interface{}{
				"id": member.ID, "userId": member.UserID,
			}, socketID)
		}
	}

	if len(ch.subscribers) == 0 {
		delete(m.channels, ch.name)
	}
}

// UnsubscribeAll removes socketID from every channel it is subscribed to,
// the disconnect-time cleanup described in §4.4.
func (m *Manager) UnsubscribeAll(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.index[socketID]
	if !ok {
		return
	}
	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	for _, name := range names {
		if ch, ok := m.channels[name]; ok {
			m.unsubscribeLocked(socketID, ch)
		}
	}
}

// Broadcast delivers {type:"event", channel, event, data} to every
// subscriber of name except exceptSocketID, a no-op if the channel does
// not exist (§4.4).
func (m *Manager) Broadcast(name, event string, data interface{}, exceptSocketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return
	}
	m.broadcastLocked(ch, event, data, exceptSocketID)
}

func (m *Manager) broadcastLocked(ch *channelState, event string, data interface{}, exceptSocketID string) {
	evt := Event{Channel: ch.name, Event: event, Data: data}
	m.recordSnapshot(ch.name, evt)
	if m.Send == nil {
		return
	}
	ids := make([]string, 0, len(ch.subscribers))
	for id := range ch.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == exceptSocketID {
			continue
		}
		m.Send(id, evt)
	}
}

func (m *Manager) recordSnapshot(name string, evt Event) {
	if m.snapshotSize <= 0 {
		return
	}
	list := append(m.snapshots[name], evt)
	if len(list) > m.snapshotSize {
		list = list[len(list)-m.snapshotSize:]
	}
	m.snapshots[name] = list
}

// Publish handles a client-originated publish: the caller must already be
// subscribed, and an OnPublish hook (if configured) must approve (§4.4).
func (m *Manager) Publish(socketID, name, event string, data interface{}, ctx *envelope.Context) error {
	m.mu.Lock()
	ch, ok := m.channels[name]
	subscribed := ok
	if ok {
		_, subscribed = ch.subscribers[socketID]
	}
	m.mu.Unlock()

	if !subscribed {
		return raffelerr.New(raffelerr.CodePermissionDenied, "cannot publish to a channel you are not subscribed to")
	}
	if m.OnPublish != nil && !m.OnPublish(socketID, name, event, data, ctx) {
		return raffelerr.New(raffelerr.CodePermissionDenied, "publish denied by onPublish hook")
	}

	m.Broadcast(name, event, data, socketID)
	return nil
}

// Snapshot returns a copy of the recent broadcast history recorded for
// name, most recent last. Empty if history tracking is disabled or the
// channel has no recorded events.
func (m *Manager) Snapshot(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.snapshots[name]
	out := make([]Event, len(hist))
	copy(out, hist)
	return out
}

// SubscriberCount returns the number of sockets subscribed to name, zero
// if it does not exist.
func (m *Manager) SubscriberCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return 0
	}
	return len(ch.subscribers)
}

func sortedMembers(members map[string]Member) []Member {
	out := make([]Member, 0, len(members))
	for _, mem := range members {
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
