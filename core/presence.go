package core

// Presence tracks which users currently have an open connection in each
// room. Entries are created lazily on the first join; an empty set is
// equivalent to absence, so rooms are never explicitly removed.
//
// The per-room sets are treated as immutable: Join and Leave replace the
// set with a copy while holding the map lock, so MembersOf and Contains can
// iterate a loaded set without further synchronization.
type Presence struct {
	rooms *SyncMap[string, map[string]struct{}]
}

func NewPresence() *Presence {
	return &Presence{
		rooms: NewSyncMap[string, map[string]struct{}](),
	}
}

// Join adds user to the room's presence set. It is idempotent and safe to
// call redundantly.
func (p *Presence) Join(roomID, user string) {
	p.rooms.LoadAndStore(roomID, func(members map[string]struct{}, ok bool) map[string]struct{} {
		if _, in := members[user]; in {
			return members
		}
		next := make(map[string]struct{}, len(members)+1)
		for m := range members {
			next[m] = struct{}{}
		}
		next[user] = struct{}{}
		return next
	})
}

// Leave removes user from the room's presence set. It is a no-op if the
// room or the user is absent.
func (p *Presence) Leave(roomID, user string) {
	p.rooms.LoadAndStore(roomID, func(members map[string]struct{}, ok bool) map[string]struct{} {
		if _, in := members[user]; !in {
			return members
		}
		next := make(map[string]struct{}, len(members)-1)
		for m := range members {
			if m != user {
				next[m] = struct{}{}
			}
		}
		return next
	})
}

// MembersOf returns a snapshot of the users currently present in the room.
// The snapshot may be empty but is never nil.
func (p *Presence) MembersOf(roomID string) []string {
	members, _ := p.rooms.Load(roomID)
	snapshot := make([]string, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	return snapshot
}

// Contains reports whether user is currently present in the room.
func (p *Presence) Contains(roomID, user string) bool {
	members, _ := p.rooms.Load(roomID)
	_, in := members[user]
	return in
}
