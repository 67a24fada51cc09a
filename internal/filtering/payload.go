package filtering

import (
	"context"
	"fmt"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/spf13/viper"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/pkg/cel"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

// PayloadFilter rewrites one field of a notification payload.
type PayloadFilter interface {
	Name() string
	Apply(ctx context.Context, n models.Notification) error
}

// CELFilter sets Field to the value of Expression, optionally guarded by When.
type CELFilter struct {
	name    string
	field   string
	program celgo.Program
	guard   celgo.Program
}

func NewCELFilter(eval *cel.Evaluator, name string, cfg config.PayloadFilterConfig) (*CELFilter, error) {
	program, err := eval.CompileExpression(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("payload filter %s: %w", name, err)
	}

	f := &CELFilter{name: name, field: cfg.Field, program: program}
	if cfg.When != "" {
		guard, err := eval.CompileFilter(cfg.When)
		if err != nil {
			return nil, fmt.Errorf("payload filter %s guard: %w", name, err)
		}
		f.guard = guard
	}
	return f, nil
}

func (f *CELFilter) Name() string { return f.name }

func (f *CELFilter) Apply(ctx context.Context, n models.Notification) error {
	if f.guard != nil {
		ok, err := cel.EvaluateBool(ctx, f.guard, n)
		if err != nil {
			return fmt.Errorf("payload filter %s guard: %w", f.name, err)
		}
		if !ok {
			return nil
		}
	}

	value, err := cel.Evaluate(ctx, f.program, n)
	if err != nil {
		return fmt.Errorf("payload filter %s: %w", f.name, err)
	}
	n.SetPayloadField(f.field, value)
	return nil
}

// MapFilter replaces Field through a lookup table. Lookup keys are case-insensitive.
type MapFilter struct {
	name   string
	field  string
	values map[string]string
}

// LoadMapFile reads a YAML map file with a top-level `values` mapping.
func LoadMapFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read map file %s: %w", path, err)
	}
	return v.GetStringMapString("values"), nil
}

func NewMapFilter(name string, cfg config.PayloadFilterConfig) (*MapFilter, error) {
	values, err := LoadMapFile(cfg.MapFile)
	if err != nil {
		return nil, fmt.Errorf("payload filter %s: %w", name, err)
	}
	return NewMapFilterFromValues(name, cfg.Field, values), nil
}

func NewMapFilterFromValues(name, field string, values map[string]string) *MapFilter {
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[strings.ToLower(k)] = v
	}
	return &MapFilter{name: name, field: field, values: lowered}
}

func (f *MapFilter) Name() string { return f.name }

func (f *MapFilter) Apply(_ context.Context, n models.Notification) error {
	current, ok := n.GetPayloadField(f.field)
	if !ok || current == nil {
		return nil
	}
	if mapped, ok := f.values[strings.ToLower(fmt.Sprint(current))]; ok {
		n.SetPayloadField(f.field, mapped)
	}
	return nil
}

// BuildPayloadFilters resolves a consumer's ordered filter names.
func BuildPayloadFilters(names []string, defs map[string]config.PayloadFilterConfig, log logger.Logger) ([]PayloadFilter, error) {
	if len(names) == 0 {
		return nil, nil
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	filters := make([]PayloadFilter, 0, len(names))
	for _, name := range names {
		def, ok := defs[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("payload filter %q is not defined", name)
		}

		var f PayloadFilter
		switch def.Method {
		case "cel":
			f, err = NewCELFilter(eval, name, def)
		case "map":
			f, err = NewMapFilter(name, def)
		default:
			err = fmt.Errorf("payload filter %s: unknown method %q", name, def.Method)
		}
		if err != nil {
			return nil, err
		}

		log.Infow("Payload filter loaded", "filter", name, "method", def.Method, "field", def.Field)
		filters = append(filters, f)
	}
	return filters, nil
}

// ApplyAll runs filters in order. A failing filter leaves its field untouched and
// the remaining filters still run; the failures are returned joined.
func ApplyAll(ctx context.Context, filters []PayloadFilter, n models.Notification) error {
	var errs []string
	for _, f := range filters {
		if err := f.Apply(ctx, n); err != nil {
			metrics.PayloadFilterErrorsTotal.WithLabelValues(f.Name()).Inc()
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("payload filters failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
