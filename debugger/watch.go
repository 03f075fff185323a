package debugger

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// WatchExpression is an expression re-evaluated on demand against the live variables.
type WatchExpression struct {
	ID          uint64
	Expression  string
	LastValue   string
	Enabled     bool
	HasChanged  bool // stays set until acknowledged
	LastChange  time.Time
	ChangeCount uint64

	evaluated bool
}

// WatchList holds the watch expressions of a session.
type WatchList struct {
	mu      sync.Mutex
	eval    *Evaluator
	nextID  uint64
	watches map[uint64]*WatchExpression
}

func newWatchList(eval *Evaluator) *WatchList {
	return &WatchList{eval: eval, nextID: 1, watches: make(map[uint64]*WatchExpression)}
}

// Add registers an enabled watch and returns its id.
func (w *WatchList) Add(expr string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.watches[id] = &WatchExpression{ID: id, Expression: expr, Enabled: true}
	return id
}

func (w *WatchList) Remove(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.watches[id]
	delete(w.watches, id)
	return ok
}

func (w *WatchList) SetEnabled(id uint64, enabled bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if watch, ok := w.watches[id]; ok {
		watch.Enabled = enabled
		return true
	}
	return false
}

// Acknowledge clears the changed flag of a watch.
func (w *WatchList) Acknowledge(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if watch, ok := w.watches[id]; ok {
		watch.HasChanged = false
		return true
	}
	return false
}

// Get returns a copy of the watch with the given id.
func (w *WatchList) Get(id uint64) (WatchExpression, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if watch, ok := w.watches[id]; ok {
		return *watch, true
	}
	return WatchExpression{}, false
}

// Update re-evaluates every enabled watch and returns copies of all watches ordered by id.
// A value that differs by string from the previous one sets HasChanged; the first evaluation
// only records the value.
func (w *WatchList) Update(vars map[string]VariableValue) []WatchExpression {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	result := make([]WatchExpression, 0, len(w.watches))
	for _, watch := range w.watches {
		if watch.Enabled {
			value := w.eval.Evaluate(watch.Expression, vars).String()
			if watch.evaluated && value != watch.LastValue {
				watch.HasChanged = true
				watch.LastChange = now
				watch.ChangeCount++
			}
			watch.LastValue = value
			watch.evaluated = true
		}
		result = append(result, *watch)
	}
	slices.SortFunc(result, func(a, b WatchExpression) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

func (w *WatchList) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}
