package task

import (
	"fmt"
)

// MergeStrategy selects how the outputs of a task's producers are combined
// into its input.
type MergeStrategy string

const (
	// MergeReplace keeps the last non-nil output.
	MergeReplace MergeStrategy = "replace"
	// MergeDict unions map outputs, later keys overriding; non-map outputs are
	// attached under a synthetic output_<i> key.
	MergeDict MergeStrategy = "merge_dict"
	// MergeList concatenates list outputs; non-list outputs are appended as
	// single items.
	MergeList MergeStrategy = "merge_list"
	// MergeCustom delegates to a registered mapper function.
	MergeCustom MergeStrategy = "custom"
)

// MergeOutputs applies a merge strategy to the upstream outputs, given in
// edge-declaration order. mapper is required for MergeCustom.
func MergeOutputs(outputs []any, strategy MergeStrategy, mapper MapperFunc) (any, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	switch strategy {
	case MergeReplace:
		for i := len(outputs) - 1; i >= 0; i-- {
			if outputs[i] != nil {
				return outputs[i], nil
			}
		}
		return nil, nil

	case MergeDict:
		result := map[string]any{}
		for _, out := range outputs {
			if m, ok := out.(map[string]any); ok {
				for k, v := range m {
					result[k] = v
				}
			} else if out != nil {
				result[fmt.Sprintf("output_%d", len(result))] = out
			}
		}
		return result, nil

	case MergeList:
		result := []any{}
		for _, out := range outputs {
			if l, ok := out.([]any); ok {
				result = append(result, l...)
			} else if out != nil {
				result = append(result, out)
			}
		}
		return result, nil

	case MergeCustom:
		if mapper == nil {
			return nil, fmt.Errorf("merge strategy %q requires a mapper function", MergeCustom)
		}
		return mapper(outputs)

	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
}

// PrepareInput assembles a task's input from its upstream outputs and assigns
// it. All incoming edges must agree on one strategy; the first edge's mapper
// reference is resolved through the registry for CUSTOM merges. A task without
// upstream keeps whatever input it was created with.
func PrepareInput(t *Task, mappers *MapperRegistry) error {
	if len(t.UpstreamLinks) == 0 {
		return nil
	}

	first := t.UpstreamLinks[0]
	strategy := first.MergeStrategy
	outputs := make([]any, 0, len(t.UpstreamLinks))
	for _, link := range t.UpstreamLinks {
		if link.MergeStrategy != strategy {
			return fmt.Errorf("task %s: conflicting merge strategies %q and %q", t.Name, strategy, link.MergeStrategy)
		}
		if link.UpstreamTask == nil {
			return fmt.Errorf("task %s: dependency %s is not hydrated", t.Name, link.ID)
		}
		out, err := link.UpstreamTask.OutputValue()
		if err != nil {
			return fmt.Errorf("task %s: decode output of %s: %w", t.Name, link.UpstreamTask.Name, err)
		}
		outputs = append(outputs, out)
	}

	var mapper MapperFunc
	if strategy == MergeCustom {
		cfg, err := first.Mapper()
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		if cfg == nil {
			return fmt.Errorf("task %s: merge strategy %q without mapper config", t.Name, MergeCustom)
		}
		fn, ok := mappers.Get(cfg.Name)
		if !ok {
			return fmt.Errorf("task %s: mapper %q is not registered", t.Name, cfg.Name)
		}
		mapper = fn
	}

	merged, err := MergeOutputs(outputs, strategy, mapper)
	if err != nil {
		return fmt.Errorf("task %s: merge inputs: %w", t.Name, err)
	}
	return t.SetInput(merged)
}
