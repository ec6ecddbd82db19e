package room

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoSuchRoom is returned when terminating a room that does not exist.
	ErrNoSuchRoom = errors.New("no such room")

	// ErrNotCreator is returned when a participant other than the room's
	// creator attempts to terminate it, or when the room has no creator.
	ErrNotCreator = errors.New("requester is not the room creator")
)

// ChatMessage is one chat record retained for replay to late joiners.
type ChatMessage struct {
	Sender      string `json:"from"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// state is the cohesive per-room record: members, creator and chat history
// live together so they cannot drift apart.
type state struct {
	members []string
	creator string
	history []ChatMessage
}

// Registry tracks room membership, creator designation and chat history for
// all active rooms. All methods are safe for concurrent use; a single mutex
// serializes every mutation, which gives each room the total event order the
// signaling protocol depends on (first joiner wins creator, history replay is
// a consistent prefix).
//
// Room state is process-local and is lost on restart.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*state
	joinedAt   map[string]time.Time
	maxHistory int

	now func() time.Time
}

func NewRegistry(maxHistory int) *Registry {
	if maxHistory <= 0 {
		maxHistory = 512
	}
	return &Registry{
		rooms:      make(map[string]*state),
		joinedAt:   make(map[string]time.Time),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// JoinResult describes the outcome of a Join call.
type JoinResult struct {
	// Members is the room's member sequence after the join, in join order.
	Members []string

	// CreatorAssigned is true when this join claimed creator status (first
	// joiner of a previously-unseen room with host intent).
	CreatorAssigned bool

	// History is the room's retained chat at the moment of the join. Taken
	// under the registry lock so the caller can replay it to the joiner
	// without racing concurrent AppendChat calls: every message is either in
	// this snapshot or arrives through the post-join broadcast, never both.
	History []ChatMessage

	// PrevRoom / PrevMembers describe an implicit departure: when the handle
	// was already joined to a different room, it is removed from that room
	// first. PrevMembers holds that room's members after the removal so the
	// caller can notify them.
	PrevRoom    string
	PrevMembers []string
	PrevDeleted bool
}

// Join appends handle to the room's member sequence, creating the room if it
// does not exist. Only the first joiner of a new room may claim creator
// status; later host assertions are ignored.
//
// A duplicate join of the same room appends a duplicate entry (the relay does
// not police client retries). Joining a different room implicitly leaves the
// current one, preserving the one-room-per-connection invariant.
func (r *Registry) Join(roomKey, handle string, host bool) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult

	if prev, ok := r.roomOfLocked(handle); ok && prev != roomKey {
		lv := r.leaveLocked(prev, handle)
		res.PrevRoom = prev
		res.PrevMembers = lv.Remaining
		res.PrevDeleted = lv.RoomDeleted
	}

	st, ok := r.rooms[roomKey]
	if !ok {
		st = &state{}
		r.rooms[roomKey] = st
		if host {
			st.creator = handle
			res.CreatorAssigned = true
		}
	}
	st.members = append(st.members, handle)

	if _, ok := r.joinedAt[handle]; !ok {
		r.joinedAt[handle] = r.now()
	}

	res.Members = copyStrings(st.members)
	if len(st.history) > 0 {
		res.History = make([]ChatMessage, len(st.history))
		copy(res.History, st.history)
	}
	return res
}

// LeaveResult describes the outcome of removing a handle from a room.
type LeaveResult struct {
	// Removed is false when the handle was not a member.
	Removed bool

	// Remaining is the member sequence after the removal.
	Remaining []string

	RoomDeleted    bool
	CreatorCleared bool
}

// Leave removes the first occurrence of handle from the room's members and
// deletes the room when the sequence empties. The creator designation is
// cleared only when no occurrence of the handle remains.
func (r *Registry) Leave(roomKey, handle string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomKey, handle)
}

func (r *Registry) leaveLocked(roomKey, handle string) LeaveResult {
	st, ok := r.rooms[roomKey]
	if !ok {
		return LeaveResult{}
	}

	idx := -1
	for i, m := range st.members {
		if m == handle {
			idx = i
			break
		}
	}
	if idx < 0 {
		return LeaveResult{Remaining: copyStrings(st.members)}
	}

	st.members = append(st.members[:idx], st.members[idx+1:]...)

	res := LeaveResult{Removed: true}
	if st.creator == handle && !contains(st.members, handle) {
		st.creator = ""
		res.CreatorCleared = true
	}

	if len(st.members) == 0 {
		delete(r.rooms, roomKey)
		res.RoomDeleted = true
		return res
	}

	res.Remaining = copyStrings(st.members)
	return res
}

// RoomOf returns the room the handle is currently joined to.
func (r *Registry) RoomOf(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomOfLocked(handle)
}

func (r *Registry) roomOfLocked(handle string) (string, bool) {
	for key, st := range r.rooms {
		if contains(st.members, handle) {
			return key, true
		}
	}
	return "", false
}

// Members returns the room's member sequence in join order, or an empty
// slice for an unknown room.
func (r *Registry) Members(roomKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	return copyStrings(st.members)
}

// Creator returns the room's creator handle, if one is designated.
func (r *Registry) Creator(roomKey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomKey]
	if !ok || st.creator == "" {
		return "", false
	}
	return st.creator, true
}

// Terminate ends the room for everyone: it removes the room record and
// returns the member snapshot so the caller can notify them. Only the
// designated creator may terminate; rooms without a creator cannot be
// terminated at all.
//
// The removal happens under the registry lock, so no join can slip in
// between the authorization check and the teardown.
func (r *Registry) Terminate(roomKey, requester string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomKey]
	if !ok {
		return nil, ErrNoSuchRoom
	}
	if st.creator == "" || st.creator != requester {
		return nil, ErrNotCreator
	}

	members := copyStrings(st.members)
	delete(r.rooms, roomKey)
	return members, nil
}

// DisconnectResult describes the cleanup performed for a departed connection.
type DisconnectResult struct {
	// Room is the room the handle was removed from, if any.
	Room string

	// Remaining is that room's member sequence after the removal.
	Remaining []string

	RoomDeleted bool

	// CreatorClearedRooms lists rooms whose creator designation was held by
	// the departed handle.
	CreatorClearedRooms []string

	// OnlineFor is how long the connection was registered to a room. Zero if
	// the handle never joined.
	OnlineFor time.Duration
}

// Disconnect performs the full cleanup for a closed connection: it clears any
// creator designation held by the handle across all rooms, removes the handle
// from its room, and reports the online duration. It is idempotent; a second
// call for the same handle is a no-op.
func (r *Registry) Disconnect(handle string) DisconnectResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res DisconnectResult

	for key, st := range r.rooms {
		if st.creator == handle {
			st.creator = ""
			res.CreatorClearedRooms = append(res.CreatorClearedRooms, key)
		}
	}

	if joined, ok := r.joinedAt[handle]; ok {
		res.OnlineFor = r.now().Sub(joined)
		delete(r.joinedAt, handle)
	}

	key, ok := r.roomOfLocked(handle)
	if !ok {
		return res
	}

	res.Room = key
	// Remove every occurrence: a disconnected handle cannot linger as a
	// duplicate member.
	for {
		lv := r.leaveLocked(key, handle)
		res.RoomDeleted = lv.RoomDeleted
		res.Remaining = lv.Remaining
		if !lv.Removed || lv.RoomDeleted || !contains(lv.Remaining, handle) {
			break
		}
	}
	return res
}

// AppendChat appends a chat record to the room's bounded history and returns
// the current member snapshot for delivery. Oldest records are evicted once
// the history cap is reached.
func (r *Registry) AppendChat(roomKey string, msg ChatMessage) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}

	if len(st.history) >= r.maxHistory {
		st.history = st.history[1:]
	}
	st.history = append(st.history, msg)

	return copyStrings(st.members)
}

// History returns a copy of the room's retained chat records in original
// order.
func (r *Registry) History(roomKey string) []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomKey]
	if !ok || len(st.history) == 0 {
		return nil
	}
	out := make([]ChatMessage, len(st.history))
	copy(out, st.history)
	return out
}

// Rooms returns the number of active rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func contains(list []string, v string) bool {
	for _, m := range list {
		if m == v {
			return true
		}
	}
	return false
}
