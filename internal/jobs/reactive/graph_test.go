package reactive

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/lounis13/taskflow/internal/domain/task"
)

func testDeps(actions *task.ActionRegistry) *nodeDeps {
	return &nodeDeps{
		actions: actions,
		mappers: task.NewMapperRegistry(),
		log:     testLogger(),
		fail:    func(error) {},
	}
}

func TestBuildLinksNodes(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.leaf", nil)

	root := task.NewJob("test.root", "Root")
	seed := task.New("test.leaf", "Seed")
	sub := task.NewJob("test.sub", "Sub")
	inner := task.New("test.leaf", "Inner")
	mustAddChild(t, root, seed, sub)
	mustAddChild(t, sub, inner)
	mustAddUpstream(t, sub, []*task.Task{seed})

	g, err := Build(root, testDeps(actions))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Root() == nil || g.Root().Task() != root {
		t.Fatalf("root node not built")
	}
	if len(g.nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.nodes))
	}

	subNode, ok := g.Node(sub.ID).(*JobNode)
	if !ok {
		t.Fatalf("expected job node for sub job")
	}
	if len(subNode.upstream) != 1 || subNode.upstream[0].Task() != seed {
		t.Fatalf("sub job upstream not linked")
	}
	if len(subNode.children) != 1 || subNode.children[0].Task() != inner {
		t.Fatalf("sub job children not linked")
	}

	innerNode := g.Node(inner.ID)
	if _, isJob := innerNode.(*JobNode); isJob {
		t.Fatalf("expected leaf node for inner task")
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.leaf", nil)

	root := task.NewJob("test.root", "Root")
	a := task.New("test.leaf", "A")
	b := task.New("test.leaf", "B")
	mustAddChild(t, root, a, b)
	mustAddUpstream(t, b, []*task.Task{a})
	mustAddUpstream(t, a, []*task.Task{b})

	_, err := Build(root, testDeps(actions))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestBuildRejectsUnregisteredKind(t *testing.T) {
	root := task.NewJob("test.root", "Root")
	a := task.New("test.mystery", "A")
	mustAddChild(t, root, a)

	_, err := Build(root, testDeps(task.NewActionRegistry()))
	if err == nil || !strings.Contains(err.Error(), "test.mystery") {
		t.Fatalf("expected unregistered-kind error, got %v", err)
	}
}

func TestBuildRejectsNonJobRoot(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.leaf", nil)
	if _, err := Build(task.New("test.leaf", "Leaf"), testDeps(actions)); err == nil {
		t.Fatalf("expected non-job root to be rejected")
	}
}

func TestWireCascadesQuiescentSetup(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.leaf", nil)

	root := task.NewJob("test.root", "Root")
	a := task.New("test.leaf", "A")
	mustAddChild(t, root, a)

	deps := testDeps(actions)
	deps.lock = &sync.Mutex{}
	deps.onChange = func(ctx context.Context, tk *task.Task) error { return nil }

	g, err := Build(root, deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := make(chan Event, 16)
	sub := g.Root().Out().Subscribe(func(ev Event) { got <- ev })
	defer sub.Unsubscribe()

	g.Wire(context.Background())
	defer g.Stop()

	ev := <-got
	if ev.Type != EventSetup {
		t.Fatalf("expected quiescent SETUP from the root, got %s", ev.Type)
	}
	if a.Status != task.StatusScheduled {
		t.Fatalf("wiring mutated task state to %s", a.Status)
	}
}
