package pricing

import (
	"context"

	"github.com/lounis13/taskflow/internal/domain/task"
)

func startAction(ctx context.Context, t *task.Task) (any, error) {
	return nil, nil
}

// NewNightBatchJob assembles the nightly batch: a Start seed task fanning out
// to candidate and reference library builds, each feeding its pricing job.
func NewNightBatchJob() (*task.Task, error) {
	root := task.NewJob(KindNightBatchJob, "Night Batch Job")

	start := task.New(KindStart, "Start")

	candidateEngine, err := NewBuildLibraryJob("Building Candidate Image Job", PricingLibrary{Name: "1.0.0-candidate"})
	if err != nil {
		return nil, err
	}
	referenceEngine, err := NewBuildLibraryJob("Building Reference Image Job", PricingLibrary{Name: "2.0.0-reference"})
	if err != nil {
		return nil, err
	}
	candidatePricing, err := NewMultiPriceJob("Candidate Pricing Job", TriggerMultiPriceInput{CollationID: "candidate-collation-id"})
	if err != nil {
		return nil, err
	}
	referencePricing, err := NewMultiPriceJob("Reference Pricing Job", TriggerMultiPriceInput{CollationID: "reference-collation-id"})
	if err != nil {
		return nil, err
	}

	if err := root.AddChild(start, candidateEngine, referenceEngine, candidatePricing, referencePricing); err != nil {
		return nil, err
	}
	if err := start.AddDownstream(candidateEngine, referenceEngine); err != nil {
		return nil, err
	}
	if err := candidatePricing.AddUpstream([]*task.Task{candidateEngine}); err != nil {
		return nil, err
	}
	if err := referencePricing.AddUpstream([]*task.Task{referenceEngine}); err != nil {
		return nil, err
	}
	return root, nil
}

// RegisterAll binds every pricing leaf kind to its action, plus the pick_first
// mapper. Called once at startup;
// a loaded task whose kind is missing from the registry fails the run.
func RegisterAll(actions *task.ActionRegistry, mappers *task.MapperRegistry) error {
	if err := actions.Register(KindStart, startAction); err != nil {
		return err
	}
	if err := actions.Register(KindBuildLibrary, buildLibraryAction); err != nil {
		return err
	}
	if err := actions.Register(KindTriggerMultiPrice, triggerMultiPriceAction); err != nil {
		return err
	}
	if err := actions.Register(KindCollationMultiPrice, collationMultiPriceAction); err != nil {
		return err
	}
	return mappers.Register(MapperPickFirst, pickFirst)
}
