package filtering

import (
	"usagerelay/internal/config"
	"usagerelay/pkg/models"
)

// Spec holds one handler's event-type lists. Matching is exact.
type Spec struct {
	Include []string
	Exclude []string
	Discard []string

	include map[string]struct{}
	exclude map[string]struct{}
	discard map[string]struct{}
}

func NewSpec(include, exclude, discard []string) Spec {
	return Spec{
		Include: include,
		Exclude: exclude,
		Discard: discard,
		include: toSet(include),
		exclude: toSet(exclude),
		discard: toSet(discard),
	}
}

// SpecFor reads the comma separated lists configured under a handler section name.
func SpecFor(cfg *config.Config, section string) Spec {
	return NewSpec(
		config.SplitList(cfg.Filters[section]),
		config.SplitList(cfg.ExcludeFilters[section]),
		config.SplitList(cfg.DiscardFilters[section]),
	)
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Allows applies the include list, then the exclude list.
func (s Spec) Allows(eventType string) bool {
	if s.include != nil {
		if _, ok := s.include[eventType]; !ok {
			return false
		}
	}
	if _, ok := s.exclude[eventType]; ok {
		return false
	}
	return true
}

func (s Spec) Discarded(eventType string) bool {
	_, ok := s.discard[eventType]
	return ok
}

// Excludes reports whether eventType is on the exclude list alone.
func (s Spec) Excludes(eventType string) bool {
	_, ok := s.exclude[eventType]
	return ok
}

// Select returns the messages a handler should see, preserving batch order.
func (s Spec) Select(msgs []*models.Message) []*models.Message {
	if s.include == nil && s.exclude == nil {
		return msgs
	}
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if s.Allows(m.EventType()) {
			out = append(out, m)
		}
	}
	return out
}
