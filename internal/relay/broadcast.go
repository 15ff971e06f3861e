package relay

// Preview is the lightweight public view of an Active session exposed to
// the central service's server-list endpoint.
type Preview struct {
	AccountID   int32
	DisplayName string
	LevelID     int32
	RoomID      int32
}

// snapshot copies the current active table under RLock and releases it
// before any per-session work runs, so broadcast and query operations
// never hold the registry lock while touching a session (spec.md §4.7,
// §5 concurrency discipline).
func (r *Registry) snapshot() []*ClientSession {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	out := make([]*ClientSession, 0, len(r.active))
	for _, c := range r.active {
		out = append(out, c)
	}
	return out
}

// ForEachActive applies fn to every Active session, snapshot-then-act.
func (r *Registry) ForEachActive(fn func(*ClientSession)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

// ByAccountIDs returns the subset of the snapshot matching the given
// account ids, preserving no particular order.
func (r *Registry) ByAccountIDs(ids []int32) []*ClientSession {
	want := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []*ClientSession
	for _, c := range r.snapshot() {
		if _, ok := want[c.AccountID()]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ByRoom returns every Active session currently in roomID.
func (r *Registry) ByRoom(roomID int32) []*ClientSession {
	var out []*ClientSession
	for _, c := range r.snapshot() {
		if c.RoomID() == roomID {
			out = append(out, c)
		}
	}
	return out
}

// ByLevel returns every Active session currently in levelID.
func (r *Registry) ByLevel(levelID int32) []*ClientSession {
	var out []*ClientSession
	for _, c := range r.snapshot() {
		if c.LevelID() == levelID {
			out = append(out, c)
		}
	}
	return out
}

// Previews returns a preview snapshot of every Active session matching
// filter, or every session if filter is nil.
func (r *Registry) Previews(filter func(*ClientSession) bool) []Preview {
	var out []Preview
	for _, c := range r.snapshot() {
		if filter != nil && !filter(c) {
			continue
		}
		out = append(out, Preview{
			AccountID:   c.AccountID(),
			DisplayName: c.Account().DisplayName,
			LevelID:     c.LevelID(),
			RoomID:      c.RoomID(),
		})
	}
	return out
}

// BroadcastVoiceToLevel resolves levelID's membership by filtering the
// active table (ByLevel's snapshot), then enqueues payload as
// BroadcastVoice to every matching session except originAccountID.
// Resolution and enqueue happen without holding the registry lock across
// sends (spec.md §4.7).
func (r *Registry) BroadcastVoiceToLevel(levelID, originAccountID int32, payload []byte) {
	for _, c := range r.ByLevel(levelID) {
		if c.AccountID() == originAccountID {
			continue
		}
		c.Enqueue(BroadcastVoice{Buf: payload})
	}
}

// BroadcastTextToLevel is BroadcastVoiceToLevel's chat counterpart.
func (r *Registry) BroadcastTextToLevel(levelID, originAccountID int32, payload []byte) {
	for _, c := range r.ByLevel(levelID) {
		if c.AccountID() == originAccountID {
			continue
		}
		c.Enqueue(BroadcastText{Buf: payload})
	}
}
