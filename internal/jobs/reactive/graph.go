package reactive

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lounis13/taskflow/internal/domain/task"
)

// Graph mirrors a persisted job tree with reactive nodes. Nothing is wired or
// mutated at build time, so a build error leaves every task untouched.
type Graph struct {
	root  *JobNode
	nodes map[uuid.UUID]node
	// ordered holds a children-first traversal used for wiring and teardown.
	ordered []node
}

// Build walks the hydrated root job and produces one node per task. It
// validates that every leaf kind has a registered action and that every
// enclosed job forms a DAG.
func Build(root *task.Task, deps *nodeDeps) (*Graph, error) {
	if root == nil || !root.IsJob() {
		return nil, fmt.Errorf("root task must be a job")
	}

	g := &Graph{nodes: make(map[uuid.UUID]node)}
	if err := g.collect(root, deps); err != nil {
		return nil, err
	}
	g.link()
	g.root = g.nodes[root.ID].(*JobNode)
	return g, nil
}

func (g *Graph) collect(t *task.Task, deps *nodeDeps) error {
	if t.IsJob() {
		if err := validateJobEdges(t); err != nil {
			return err
		}
		for _, child := range t.Children {
			if err := g.collect(child, deps); err != nil {
				return err
			}
		}
		jn := newJobNode(t)
		jn.setDeps(deps)
		g.nodes[t.ID] = jn
		g.ordered = append(g.ordered, jn)
		return nil
	}

	if _, ok := deps.actions.Get(t.Kind); !ok {
		return fmt.Errorf("task %s: no action registered for kind %q", t.Name, t.Kind)
	}
	tn := newTaskNode(t)
	tn.setDeps(deps)
	g.nodes[t.ID] = tn
	g.ordered = append(g.ordered, tn)
	return nil
}

// link resolves upstream, children, and parent references through the node
// map. Edges whose endpoints are missing from the map are skipped: edges are
// intra-job and the map is complete, so this is purely defensive.
func (g *Graph) link() {
	for _, n := range g.ordered {
		t := n.Task()

		upstream := make([]node, 0, len(t.UpstreamLinks))
		for _, link := range t.UpstreamLinks {
			if up, ok := g.nodes[link.UpstreamTaskID]; ok {
				upstream = append(upstream, up)
			}
		}
		var parent node
		if t.ParentID != nil {
			if p, ok := g.nodes[*t.ParentID]; ok {
				parent = p
			}
		}
		n.setLinks(parent, upstream)

		if jn, ok := n.(*JobNode); ok {
			children := make([]node, 0, len(t.Children))
			for _, child := range t.Children {
				if cn, ok := g.nodes[child.ID]; ok {
					children = append(children, cn)
				}
			}
			jn.setChildren(children)
		}
	}
}

// validateJobEdges rejects cycles among a job's children using a Kahn pass,
// stable by declaration order.
func validateJobEdges(job *task.Task) error {
	ids := make(map[uuid.UUID]bool, len(job.Children))
	for _, child := range job.Children {
		ids[child.ID] = true
	}

	deg := make(map[uuid.UUID]int, len(job.Children))
	out := make(map[uuid.UUID][]uuid.UUID)
	for _, child := range job.Children {
		deg[child.ID] = 0
	}
	for _, child := range job.Children {
		for _, link := range child.UpstreamLinks {
			if !ids[link.UpstreamTaskID] {
				return fmt.Errorf("job %s: dependency of %s reaches outside the job", job.Name, child.Name)
			}
			deg[child.ID]++
			out[link.UpstreamTaskID] = append(out[link.UpstreamTaskID], child.ID)
		}
	}

	resolved := 0
	added := make(map[uuid.UUID]bool, len(job.Children))
	for {
		progressed := false
		for _, child := range job.Children {
			if added[child.ID] || deg[child.ID] != 0 {
				continue
			}
			added[child.ID] = true
			resolved++
			for _, next := range out[child.ID] {
				deg[next]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if resolved != len(job.Children) {
		return fmt.Errorf("job %s: cycle detected in dependency graph", job.Name)
	}
	return nil
}

// Root returns the root job node.
func (g *Graph) Root() *JobNode { return g.root }

// Node returns the node wrapping the given task id.
func (g *Graph) Node(id uuid.UUID) node {
	return g.nodes[id]
}

// Wire subscribes every node to its inputs, children first. Behavior subjects
// replay their initial NONE immediately, so wiring cascades a quiescent SETUP
// wave through the graph before the root is started.
func (g *Graph) Wire(ctx context.Context) {
	for _, n := range g.ordered {
		n.wire(ctx)
	}
}

// Stop detaches all subscriptions and stops the node goroutines.
func (g *Graph) Stop() {
	for _, n := range g.ordered {
		n.stop()
	}
}
