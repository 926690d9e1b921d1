package pricing

import (
	"context"
	"fmt"

	"github.com/lounis13/taskflow/internal/domain/task"
)

// MapperPickFirst is the registered name of the fan-in mapper that keeps the
// first upstream output.
const MapperPickFirst = "pick_first"

// mapperModule records where registered mappers live; edges persist it for
// provenance alongside the mapper name.
const mapperModule = "internal/application/pricing"

// TriggerMultiPriceInput identifies the collation a pricing run covers.
type TriggerMultiPriceInput struct {
	CollationID string `json:"collation_id"`
}

// TriggerMultiPriceOut is the collation result.
type TriggerMultiPriceOut struct {
	CollationID string `json:"collation_id"`
	Status      string `json:"status"`
}

func triggerMultiPriceAction(ctx context.Context, t *task.Task) (any, error) {
	var in TriggerMultiPriceInput
	if err := t.UnmarshalInput(&in); err != nil {
		return nil, err
	}
	if in.CollationID == "" {
		return nil, fmt.Errorf("trigger multi price: missing collation_id")
	}
	return in, nil
}

func collationMultiPriceAction(ctx context.Context, t *task.Task) (any, error) {
	var in TriggerMultiPriceInput
	if err := t.UnmarshalInput(&in); err != nil {
		return nil, err
	}
	return TriggerMultiPriceOut{CollationID: in.CollationID, Status: "OK"}, nil
}

func pickFirst(outputs []any) (any, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("pick_first: no upstream outputs")
	}
	return outputs[0], nil
}

// NewMultiPriceJob builds the trigger -> collation pricing job. The collation
// input is derived from the trigger output through the pick_first mapper.
func NewMultiPriceJob(name string, input TriggerMultiPriceInput) (*task.Task, error) {
	job := task.NewJob(KindMultiPriceJob, name)
	if err := job.SetInput(input); err != nil {
		return nil, err
	}

	trigger := task.New(KindTriggerMultiPrice, "Trigger Pricing")
	if err := trigger.SetInput(input); err != nil {
		return nil, err
	}
	collation := task.New(KindCollationMultiPrice, "Collation Pricing")

	if err := job.AddChild(trigger, collation); err != nil {
		return nil, err
	}
	if err := collation.AddUpstream(
		[]*task.Task{trigger},
		task.WithMergeStrategy(task.MergeCustom),
		task.WithMapper(mapperModule, MapperPickFirst),
	); err != nil {
		return nil, err
	}
	return job, nil
}
