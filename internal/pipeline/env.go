package pipeline

import (
	"sort"

	"usagerelay/internal/filtering"
)

// Well-known result slots.
const (
	AtomPubResults = "atompub.results"
	CufPubResults  = "cufpub.results"
)

// DeliveryResult is the outcome of one delivery attempt sequence.
type DeliveryResult struct {
	Error     bool   `json:"error"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Service   string `json:"service,omitempty"`
	AHEventID string `json:"ah_event_id,omitempty"`
}

// Results maps message id to its delivery result.
type Results map[string]DeliveryResult

// Env is the per-batch context threaded through every handler of a pipeline.
// It lives for exactly one batch and is only touched by the pipeline goroutine.
type Env struct {
	Queue          string
	PayloadFilters []filtering.PayloadFilter

	slots map[string]Results
}

func NewEnv(queue string, filters []filtering.PayloadFilter) *Env {
	return &Env{
		Queue:          queue,
		PayloadFilters: filters,
		slots:          make(map[string]Results),
	}
}

// Register creates the named slot if it does not exist and returns it.
func (e *Env) Register(slot string) Results {
	if r, ok := e.slots[slot]; ok {
		return r
	}
	r := make(Results)
	e.slots[slot] = r
	return r
}

// Lookup returns a slot and whether any handler registered it for this batch.
func (e *Env) Lookup(slot string) (Results, bool) {
	r, ok := e.slots[slot]
	return r, ok
}

// Record stores a result, registering the slot on first use.
func (e *Env) Record(slot, messageID string, result DeliveryResult) {
	e.Register(slot)[messageID] = result
}

func (e *Env) Slots() []string {
	names := make([]string, 0, len(e.slots))
	for name := range e.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary counts errored and successful results per slot.
func (e *Env) Summary() map[string]SlotSummary {
	out := make(map[string]SlotSummary, len(e.slots))
	for name, results := range e.slots {
		var s SlotSummary
		for _, r := range results {
			s.Total++
			if r.Error {
				s.Errors++
			}
		}
		out[name] = s
	}
	return out
}

type SlotSummary struct {
	Total  int `json:"total"`
	Errors int `json:"errors"`
}
