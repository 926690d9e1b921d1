package task

import (
	"testing"
)

func TestAddUpstreamRejectsCrossJobEdges(t *testing.T) {
	jobA := NewJob("test.job", "A")
	jobB := NewJob("test.job", "B")
	inA := New("test.task", "in-a")
	inB := New("test.task", "in-b")
	if err := jobA.AddChild(inA); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := jobB.AddChild(inB); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := inB.AddUpstream([]*Task{inA}); err == nil {
		t.Fatalf("expected cross-job dependency to be rejected")
	}
}

func TestAddUpstreamSkipsDuplicates(t *testing.T) {
	job := NewJob("test.job", "J")
	a := New("test.task", "a")
	b := New("test.task", "b")
	if err := job.AddChild(a, b); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := b.AddUpstream([]*Task{a}); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}
	if err := b.AddUpstream([]*Task{a}); err != nil {
		t.Fatalf("AddUpstream duplicate: %v", err)
	}
	if len(b.UpstreamLinks) != 1 {
		t.Fatalf("expected 1 upstream link, got %d", len(b.UpstreamLinks))
	}
	if len(a.DownstreamLinks) != 1 {
		t.Fatalf("expected 1 downstream link, got %d", len(a.DownstreamLinks))
	}
}

func TestAddUpstreamMapperRequiresCustom(t *testing.T) {
	job := NewJob("test.job", "J")
	a := New("test.task", "a")
	b := New("test.task", "b")
	if err := job.AddChild(a, b); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	err := b.AddUpstream([]*Task{a}, WithMergeStrategy(MergeReplace), WithMapper("m", "f"))
	if err == nil {
		t.Fatalf("expected mapper with non-custom strategy to be rejected")
	}
}

func TestIsRunnable(t *testing.T) {
	job := NewJob("test.job", "J")
	up := New("test.task", "up")
	down := New("test.task", "down")
	if err := job.AddChild(up, down); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := down.AddUpstream([]*Task{up}); err != nil {
		t.Fatalf("AddUpstream: %v", err)
	}

	if !up.IsRunnable() {
		t.Fatalf("expected upstream-less scheduled task to be runnable")
	}
	if down.IsRunnable() {
		t.Fatalf("expected task with pending upstream not to be runnable")
	}

	up.Status = StatusSuccess
	if !down.IsRunnable() {
		t.Fatalf("expected task with successful upstream to be runnable")
	}

	down.Status = StatusReadyToRetry
	if !down.IsRunnable() {
		t.Fatalf("expected READY_TO_RETRY task to be runnable")
	}

	down.Status = StatusRunning
	if down.IsRunnable() {
		t.Fatalf("expected running task not to be runnable")
	}

	down.Status = StatusSuccess
	if down.IsRunnable() {
		t.Fatalf("expected finished task not to be runnable")
	}
}

func TestAddChildOnlyJobs(t *testing.T) {
	leaf := New("test.task", "leaf")
	if err := leaf.AddChild(New("test.task", "child")); err == nil {
		t.Fatalf("expected AddChild on a leaf to fail")
	}
}
