// Package state tracks extraction progress durably across runs: which
// streams finished, which ids each root stream has seen, and how far each
// pagination got. The persisted layout is a single JSON snapshot overwritten
// on every flush, so a resumed run picks up exactly where the last snapshot
// left it. One goroutine mutates state at a time.
package state

import (
	"sort"
	"time"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
)

// flushInterval throttles snapshot writes during record loops. Stream
// boundaries always flush regardless.
const flushInterval = 60 * time.Second

// Writer receives full state snapshots. The message sink and the state-out
// file writer both satisfy it.
type Writer interface {
	WriteState(snapshot map[string]interface{}) error
}

// ItemOffset is the resume position of one item within an item-scoped
// stream. Done replaces the count once the item finishes.
type ItemOffset struct {
	Done  bool
	Count int
}

// Bookmark is the durable progress of one stream.
type Bookmark struct {
	Done bool

	ids   []string
	idSet map[string]bool

	// root stream pagination offset
	count    int
	hasCount bool

	// item-scoped stream offsets keyed by item id
	items map[string]*ItemOffset
}

// MarshalJSON writes the persisted bookmark layout:
// {done, ids:[...], offset:{count}|{<item_id>:{done}|{count}}}.
func (b *Bookmark) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"done": b.Done}

	if len(b.ids) > 0 {
		out["ids"] = b.ids
	}

	if b.hasCount {
		out["offset"] = map[string]interface{}{"count": b.count}
	} else if len(b.items) > 0 {
		offset := make(map[string]interface{}, len(b.items))
		for itemID, item := range b.items {
			if item.Done {
				offset[itemID] = map[string]interface{}{"done": true}
			} else {
				offset[itemID] = map[string]interface{}{"count": item.Count}
			}
		}
		out["offset"] = offset
	}

	return jsonutil.Marshal(out)
}

// UnmarshalJSON reads the persisted bookmark layout back.
func (b *Bookmark) UnmarshalJSON(data []byte) error {
	var raw struct {
		Done   bool                   `json:"done"`
		IDs    []string               `json:"ids"`
		Offset map[string]interface{} `json:"offset"`
	}
	if err := jsonutil.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.Done = raw.Done
	b.ids = raw.IDs
	b.idSet = make(map[string]bool, len(raw.IDs))
	for _, id := range raw.IDs {
		b.idSet[id] = true
	}

	if count, ok := raw.Offset["count"]; ok {
		if n, ok := count.(float64); ok {
			b.count = int(n)
			b.hasCount = true
		}
		return nil
	}

	for itemID, rawItem := range raw.Offset {
		entry, ok := rawItem.(map[string]interface{})
		if !ok {
			continue
		}
		item := &ItemOffset{}
		if done, ok := entry["done"].(bool); ok {
			item.Done = done
		}
		if n, ok := entry["count"].(float64); ok {
			item.Count = int(n)
		}
		if b.items == nil {
			b.items = make(map[string]*ItemOffset)
		}
		b.items[itemID] = item
	}
	return nil
}

// SyncState is the in-memory working copy of the tap's durable state.
type SyncState struct {
	lastRun          *time.Time
	currentRun       time.Time
	currentlySyncing string
	bookmarks        map[string]*Bookmark

	writer       Writer
	lastFlush    time.Time
	sessionStart time.Time
	now          func() time.Time
}

// New starts a fresh state for a run beginning now.
func New(w Writer) *SyncState {
	s := &SyncState{
		bookmarks: make(map[string]*Bookmark),
		writer:    w,
		now:       time.Now,
	}
	s.currentRun = s.now().UTC()
	s.sessionStart = s.currentRun
	return s
}

// Load restores state from a persisted snapshot and opens a new run window if
// the snapshot has none in progress.
func Load(data []byte, w Writer) (*SyncState, error) {
	var raw struct {
		LastRun          string               `json:"last_run"`
		CurrentRun       string               `json:"current_run"`
		CurrentlySyncing string               `json:"currently_syncing"`
		Bookmarks        map[string]*Bookmark `json:"bookmarks"`
	}
	if err := jsonutil.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decode state snapshot")
	}

	s := New(w)

	if raw.LastRun != "" {
		t, err := normalize.ParseTime(raw.LastRun)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot parse last_run").
				WithDetail("value", raw.LastRun)
		}
		s.lastRun = &t
	}
	if raw.CurrentRun != "" {
		t, err := normalize.ParseTime(raw.CurrentRun)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot parse current_run").
				WithDetail("value", raw.CurrentRun)
		}
		s.currentRun = t
	}
	s.currentlySyncing = raw.CurrentlySyncing
	if raw.Bookmarks != nil {
		s.bookmarks = raw.Bookmarks
		for _, b := range s.bookmarks {
			if b.idSet == nil {
				b.idSet = make(map[string]bool)
			}
		}
	}
	return s, nil
}

func (s *SyncState) bookmark(streamID string) *Bookmark {
	b, ok := s.bookmarks[streamID]
	if !ok {
		b = &Bookmark{idSet: make(map[string]bool)}
		s.bookmarks[streamID] = b
	}
	return b
}

// LastRun returns the start of the previous completed run, if any.
func (s *SyncState) LastRun() *time.Time {
	return s.lastRun
}

// SessionTime returns how long this process has been extracting. The clock
// starts when the state is constructed, never from a persisted snapshot, so a
// resumed invocation gets a full fresh time budget.
func (s *SyncState) SessionTime() time.Duration {
	return s.now().UTC().Sub(s.sessionStart)
}

// Done reports whether a stream finished in the current run.
func (s *SyncState) Done(streamID string) bool {
	b, ok := s.bookmarks[streamID]
	return ok && b.Done
}

// SetDone marks a stream finished. The stream's offset is cleared; its ids
// survive because dependent streams and dedup still need them.
func (s *SyncState) SetDone(streamID string) {
	b := s.bookmark(streamID)
	b.Done = true
	b.hasCount = false
	b.items = nil
}

// AddID records an id seen by a root stream. IDs only accumulate within a
// run. Returns whether the id was new.
func (s *SyncState) AddID(streamID, id string) bool {
	b := s.bookmark(streamID)
	if b.idSet[id] {
		return false
	}
	b.idSet[id] = true
	b.ids = append(b.ids, id)
	return true
}

// HasID reports whether a root stream already recorded an id.
func (s *SyncState) HasID(streamID, id string) bool {
	b, ok := s.bookmarks[streamID]
	return ok && b.idSet[id]
}

// IDs returns a sorted copy of a root stream's recorded ids, giving dependent
// streams a deterministic iteration order.
func (s *SyncState) IDs(streamID string) []string {
	b, ok := s.bookmarks[streamID]
	if !ok {
		return nil
	}
	ids := make([]string, len(b.ids))
	copy(ids, b.ids)
	sort.Strings(ids)
	return ids
}

// NumIDs returns how many ids a root stream has recorded.
func (s *SyncState) NumIDs(streamID string) int {
	b, ok := s.bookmarks[streamID]
	if !ok {
		return 0
	}
	return len(b.ids)
}

// Count returns a root stream's pagination offset.
func (s *SyncState) Count(streamID string) int {
	b, ok := s.bookmarks[streamID]
	if !ok {
		return 0
	}
	return b.count
}

// SetCount records a root stream's pagination offset.
func (s *SyncState) SetCount(streamID string, count int) {
	b := s.bookmark(streamID)
	b.count = count
	b.hasCount = true
}

// ItemDone reports whether one item of an item-scoped stream finished.
func (s *SyncState) ItemDone(streamID, itemID string) bool {
	b, ok := s.bookmarks[streamID]
	if !ok {
		return false
	}
	item, ok := b.items[itemID]
	return ok && item.Done
}

// SetItemDone marks one item finished, replacing its count offset.
func (s *SyncState) SetItemDone(streamID, itemID string) {
	b := s.bookmark(streamID)
	if b.items == nil {
		b.items = make(map[string]*ItemOffset)
	}
	b.items[itemID] = &ItemOffset{Done: true}
}

// ItemCount returns one item's pagination offset.
func (s *SyncState) ItemCount(streamID, itemID string) int {
	b, ok := s.bookmarks[streamID]
	if !ok {
		return 0
	}
	item, ok := b.items[itemID]
	if !ok || item.Done {
		return 0
	}
	return item.Count
}

// SetItemCount records one item's pagination offset.
func (s *SyncState) SetItemCount(streamID, itemID string, count int) {
	b := s.bookmark(streamID)
	if b.items == nil {
		b.items = make(map[string]*ItemOffset)
	}
	item, ok := b.items[itemID]
	if !ok || item.Done {
		item = &ItemOffset{}
		b.items[itemID] = item
	}
	item.Count = count
}

// CurrentlySyncing returns the stream being worked, empty between streams.
func (s *SyncState) CurrentlySyncing() string {
	return s.currentlySyncing
}

// SetCurrentlySyncing records the stream being worked.
func (s *SyncState) SetCurrentlySyncing(streamID string) {
	s.currentlySyncing = streamID
}

// ClearCurrentlySyncing clears the in-progress marker.
func (s *SyncState) ClearCurrentlySyncing() {
	s.currentlySyncing = ""
}

// BeginRun opens a run window if none is in progress. A window from a crashed
// run survives so the eventual watermark stays conservative.
func (s *SyncState) BeginRun() {
	if s.currentRun.IsZero() {
		s.currentRun = s.now().UTC()
	}
}

// FinalizeRun closes out a clean run: the current run window becomes last_run,
// the window clears, and all per-run progress resets so the next run starts
// fresh.
func (s *SyncState) FinalizeRun() {
	run := s.currentRun
	s.lastRun = &run
	s.currentRun = time.Time{}
	s.currentlySyncing = ""
	s.bookmarks = make(map[string]*Bookmark)
}

// Snapshot builds the persisted layout of the current state.
func (s *SyncState) Snapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"bookmarks": s.bookmarks,
	}
	if !s.currentRun.IsZero() {
		snapshot["current_run"] = normalize.FormatTime(s.currentRun)
	}
	if s.lastRun != nil {
		snapshot["last_run"] = normalize.FormatTime(*s.lastRun)
	}
	if s.currentlySyncing != "" {
		snapshot["currently_syncing"] = s.currentlySyncing
	}
	return snapshot
}

// Flush writes a snapshot through the writer. Unforced flushes are throttled
// so record loops do not hammer the state sink; forced flushes always write.
func (s *SyncState) Flush(force bool) error {
	if s.writer == nil {
		return nil
	}
	if !force && !s.lastFlush.IsZero() && s.now().Sub(s.lastFlush) < flushInterval {
		return nil
	}
	if err := s.writer.WriteState(s.Snapshot()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot flush state snapshot")
	}
	s.lastFlush = s.now()
	return nil
}
