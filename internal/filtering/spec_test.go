package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"usagerelay/internal/config"
	"usagerelay/pkg/models"
)

func batchOf(types ...string) []*models.Message {
	msgs := make([]*models.Message, 0, len(types))
	for i, et := range types {
		msgs = append(msgs, models.NewMessageBuilder().
			WithMessageID(string(rune('a'+i))).
			WithEventType(et).
			Build())
	}
	return msgs
}

func eventTypes(msgs []*models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.EventType())
	}
	return out
}

func TestSpecSelect(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{name: "no lists", want: []string{"A", "B", "C"}},
		{name: "include only", include: []string{"A", "B"}, want: []string{"A", "B"}},
		{name: "exclude only", exclude: []string{"B"}, want: []string{"A", "C"}},
		{name: "include then exclude", include: []string{"A", "B"}, exclude: []string{"B"}, want: []string{"A"}},
		{name: "exact match only", include: []string{"A."}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := NewSpec(tt.include, tt.exclude, nil)
			assert.Equal(t, tt.want, eventTypes(spec.Select(batchOf("A", "B", "C"))))
		})
	}
}

func TestSpecDiscarded(t *testing.T) {
	spec := NewSpec(nil, nil, []string{"compute.instance.update"})
	assert.True(t, spec.Discarded("compute.instance.update"))
	assert.False(t, spec.Discarded("compute.instance.exists"))
	assert.False(t, NewSpec(nil, nil, nil).Discarded("anything"))
}

func TestSpecFor(t *testing.T) {
	cfg := &config.Config{
		Filters:        map[string]string{"atompub": "A, B"},
		ExcludeFilters: map[string]string{"atompub": "B"},
		DiscardFilters: map[string]string{"cufpub": "C"},
	}

	atom := SpecFor(cfg, "atompub")
	assert.Equal(t, []string{"A", "B"}, atom.Include)
	assert.True(t, atom.Excludes("B"))
	assert.True(t, atom.Allows("A"))
	assert.False(t, atom.Allows("C"))

	cuf := SpecFor(cfg, "cufpub")
	assert.True(t, cuf.Allows("C"))
	assert.True(t, cuf.Discarded("C"))
}
