package relay

import "sync"

// maxPendingMarks bounds the mark queue so it cannot grow without
// limit if Twilio stops acknowledging marks. The oldest entry is
// dropped on overflow.
const maxPendingMarks = 512

// SessionState is the per-call relay state shared by both pumps and
// the interruption handler. A single mutex guards every field: several
// of them are read then written across steps that must not interleave
// with a concurrent writer.
type SessionState struct {
	mu                       sync.Mutex
	streamSid                string
	latestMediaTimestampMs   int64
	lastAssistantItemID      string
	responseStartTimestampMs int64
	responseStartSet         bool
	pendingMarks             []string
}

// NewSessionState creates state for a freshly negotiated stream.
func NewSessionState(streamSid string) *SessionState {
	return &SessionState{streamSid: streamSid}
}

// Restart re-initializes the state for a stream that (re)started
// mid-connection. This is the resynchronization point.
func (s *SessionState) Restart(streamSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSid = streamSid
	s.latestMediaTimestampMs = 0
	s.lastAssistantItemID = ""
	s.responseStartTimestampMs = 0
	s.responseStartSet = false
	s.pendingMarks = nil
}

// StreamSid returns the current stream identifier.
func (s *SessionState) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// NoteMedia records the timestamp of an inbound media frame. Values
// are taken as authoritative even if non-monotonic.
func (s *SessionState) NoteMedia(timestampMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMediaTimestampMs = timestampMs
}

// LatestMediaTimestampMs returns the inbound clock position.
func (s *SessionState) LatestMediaTimestampMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMediaTimestampMs
}

// BeginAssistantTurn notes that audio for itemID is being forwarded.
// The first delta of a new item captures the inbound clock position at
// which the turn's audio begins; later deltas of the same item leave
// the state untouched.
func (s *SessionState) BeginAssistantTurn(itemID string) {
	if itemID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if itemID == s.lastAssistantItemID {
		return
	}
	s.responseStartTimestampMs = s.latestMediaTimestampMs
	s.responseStartSet = true
	s.lastAssistantItemID = itemID
}

// LastAssistantItemID returns the item currently being spoken, or ""
// when the model is not mid-utterance.
func (s *SessionState) LastAssistantItemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistantItemID
}

// PushMark enqueues an emitted playback mark awaiting acknowledgement.
func (s *SessionState) PushMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingMarks) >= maxPendingMarks {
		s.pendingMarks = s.pendingMarks[1:]
	}
	s.pendingMarks = append(s.pendingMarks, name)
}

// AckMark pops the oldest pending mark. Acknowledgements beyond the
// queue's contents are no-ops, not errors.
func (s *SessionState) AckMark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingMarks) == 0 {
		return
	}
	s.pendingMarks = s.pendingMarks[1:]
}

// PendingMarks returns how many marks await acknowledgement.
func (s *SessionState) PendingMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingMarks)
}

// TakeInterruption atomically decides whether a caller interruption
// should truncate playback and, if so, resets the turn state and
// returns what to truncate. It returns ok=false when the model is not
// mid-utterance or nothing is queued to interrupt; the state is left
// untouched in that case.
func (s *SessionState) TakeInterruption() (itemID, streamSid string, elapsedMs int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastAssistantItemID == "" {
		return "", "", 0, false
	}
	if len(s.pendingMarks) == 0 || !s.responseStartSet {
		return "", "", 0, false
	}

	elapsedMs = s.latestMediaTimestampMs - s.responseStartTimestampMs
	if elapsedMs < 0 {
		// Clock anomaly; treat as zero elapsed rather than failing.
		elapsedMs = 0
	}
	itemID = s.lastAssistantItemID
	streamSid = s.streamSid

	s.pendingMarks = nil
	s.lastAssistantItemID = ""
	s.responseStartTimestampMs = 0
	s.responseStartSet = false
	return itemID, streamSid, elapsedMs, true
}
