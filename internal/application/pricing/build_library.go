package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lounis13/taskflow/internal/domain/task"
)

// Task kinds of the pricing job family. The kind column of a persisted leaf
// task resolves to its registered action at load time; the job kinds name the
// job family and have no action.
const (
	KindNightBatchJob       = "pricing.night_batch_job"
	KindBuildLibraryJob     = "pricing.build_library_job"
	KindMultiPriceJob       = "pricing.multi_price_job"
	KindStart               = "pricing.start"
	KindBuildLibrary        = "pricing.build_library"
	KindTriggerMultiPrice   = "pricing.trigger_multi_price"
	KindCollationMultiPrice = "pricing.collation_multi_price"
)

// PricingLibrary names a pricing library version to build.
type PricingLibrary struct {
	Name string `json:"name"`
}

// PricingEngine is the built artifact of a library build.
type PricingEngine struct {
	Name   string `json:"name"`
	Engine string `json:"engine"`
}

func buildLibraryAction(ctx context.Context, t *task.Task) (any, error) {
	var in PricingLibrary
	if err := t.UnmarshalInput(&in); err != nil {
		return nil, err
	}
	return PricingEngine{
		Name:   in.Name,
		Engine: fmt.Sprintf("engine-%s-%s", in.Name, uuid.New()),
	}, nil
}

// NewBuildLibraryJob builds the single-task job that produces a pricing
// engine image for one library version.
func NewBuildLibraryJob(name string, input PricingLibrary) (*task.Task, error) {
	job := task.NewJob(KindBuildLibraryJob, name)
	if err := job.SetInput(input); err != nil {
		return nil, err
	}

	build := task.New(KindBuildLibrary, "Building Image")
	if err := build.SetInput(input); err != nil {
		return nil, err
	}
	if err := job.AddChild(build); err != nil {
		return nil, err
	}
	return job, nil
}
