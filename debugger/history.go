package debugger

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// HistoryRecord is one event received by the controller.
type HistoryRecord struct {
	Seq     uint64          `msgpack:"s"`
	At      time.Time       `msgpack:"t"`
	Message DebuggerMessage `msgpack:"m"`
}

// EventHistory appends received events to a Storage, scoped to one session.
type EventHistory struct {
	store Storage
	owner Storage // closed with the history, nil when the store is shared

	mu  sync.Mutex
	seq uint64
}

// OpenEventHistory stores the history of sessionID in dir, or in memory when dir is empty.
func OpenEventHistory(dir, sessionID string) (*EventHistory, error) {
	store, err := OpenStorage(dir)
	if err != nil {
		return nil, err
	}
	h := NewEventHistory(KeyPrefixStorage(store, sessionID))
	h.owner = store
	return h, nil
}

// NewEventHistory records into store, which stays owned by the caller.
func NewEventHistory(store Storage) *EventHistory {
	return &EventHistory{store: store}
}

func historyKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// Append records msg with the next sequence number.
func (h *EventHistory) Append(msg DebuggerMessage) error {
	h.mu.Lock()
	h.seq++
	rec := HistoryRecord{Seq: h.seq, At: time.Now(), Message: msg}
	h.mu.Unlock()

	raw, err := msgpack.Marshal(&rec)
	if err != nil {
		return newError(KindSerialization, "append history", "", err)
	}
	blob, err := ZstdCompress(nil, raw)
	if err != nil {
		return newError(KindSerialization, "append history", "", err)
	}
	return h.store.SaveState(historyKey(rec.Seq), blob)
}

// Len returns the number of appended events.
func (h *EventHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.seq)
}

// Records returns the stored events in order.
func (h *EventHistory) Records() ([]HistoryRecord, error) {
	keys, err := h.store.ListKeys()
	if err != nil {
		return nil, err
	}
	records := make([]HistoryRecord, 0, len(keys))
	for _, key := range keys {
		blob, ok, err := h.store.LoadState(key)
		if err != nil {
			return records, err
		} else if !ok {
			continue
		}
		raw, err := ZstdDecompress(nil, blob)
		if err != nil {
			return records, newError(KindSerialization, "load history", key, err)
		}
		var rec HistoryRecord
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return records, newError(KindSerialization, "load history", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (h *EventHistory) Close() error {
	if h.owner != nil {
		return h.owner.Close()
	}
	return nil
}

// ListSessions returns the ids of the sessions recorded in dir.
func ListSessions(dir string) ([]string, error) {
	store, err := OpenStorage(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	keys, err := store.ListKeys()
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, key := range keys {
		if session, _, ok := strings.Cut(key, ";"); ok && !slices.Contains(sessions, session) {
			sessions = append(sessions, session)
		}
	}
	slices.Sort(sessions)
	return sessions, nil
}

// ReplayTasks rebuilds the async task registry described by the recorded events.
func ReplayTasks(records []HistoryRecord) *TaskRegistry {
	tasks := NewTaskRegistry(TaskRegistryOptions{})
	for _, rec := range records {
		applyTaskEvent(tasks, rec.Message)
	}
	return tasks
}

func applyTaskEvent(tasks *TaskRegistry, msg DebuggerMessage) {
	switch msg.Kind {
	case MsgAsyncTaskCreated:
		tasks.Register(msg.Function, msg.TaskID, msg.ParentID)
	case MsgAsyncTaskStateChanged:
		if state, ok := ParseTaskState(msg.NewState); ok {
			tasks.UpdateState(msg.TaskID, state)
		}
	}
}
