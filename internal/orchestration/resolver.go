// Package orchestration is the engine core: the dependency graph, the
// bounded dispatch queue, the executor pool and the planner loop that
// ties them together.
//
// Key design: parallel executor I/O, sequential deterministic merge. The
// planner is the only goroutine that moves tasks into terminal states.
package orchestration

import (
	"fmt"
	"sort"
	"time"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// node is one task's place in the dependency graph.
type node struct {
	id        contracts.TaskID
	deps      []contracts.TaskID
	next      []contracts.TaskID
	priority  contracts.Priority
	createdAt time.Time
}

// Graph is the dependency DAG over the task set. It carries structure
// only; task status lives in the store.
//
// Thread-safety: the graph is owned by the planner goroutine and never
// shared.
type Graph struct {
	nodes map[contracts.TaskID]*node
}

// BuildGraph constructs the graph from a task list. Every dependency
// must name a task in the list.
func BuildGraph(tasks []*contracts.Task) (*Graph, error) {
	if tasks == nil {
		return nil, contracts.ErrInvalidInput
	}

	g := &Graph{nodes: make(map[contracts.TaskID]*node, len(tasks))}
	for _, t := range tasks {
		g.nodes[t.ID] = &node{
			id:        t.ID,
			deps:      append([]contracts.TaskID(nil), t.Dependencies...),
			priority:  t.Priority,
			createdAt: t.CreatedAt,
		}
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			depNode, ok := g.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s: %w", t.ID, dep, contracts.ErrInvalidInput)
			}
			depNode.next = append(depNode.next, t.ID)
		}
	}
	return g, nil
}

// Add inserts one task into an existing graph. Dependencies must already
// be present; follow-up tasks may only depend on what exists.
func (g *Graph) Add(t *contracts.Task) error {
	if _, ok := g.nodes[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, contracts.ErrTaskExists)
	}
	for _, dep := range t.Dependencies {
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("task %s depends on unknown task %s: %w", t.ID, dep, contracts.ErrInvalidInput)
		}
	}
	g.nodes[t.ID] = &node{
		id:        t.ID,
		deps:      append([]contracts.TaskID(nil), t.Dependencies...),
		priority:  t.Priority,
		createdAt: t.CreatedAt,
	}
	for _, dep := range t.Dependencies {
		dn := g.nodes[dep]
		dn.next = append(dn.next, t.ID)
	}
	return nil
}

// Deps returns the direct dependencies of a task.
func (g *Graph) Deps(id contracts.TaskID) []contracts.TaskID {
	if n, ok := g.nodes[id]; ok {
		return n.deps
	}
	return nil
}

// Dependents returns the tasks that directly depend on the given one.
func (g *Graph) Dependents(id contracts.TaskID) []contracts.TaskID {
	if n, ok := g.nodes[id]; ok {
		return n.next
	}
	return nil
}

// Validate checks the graph for cycles using DFS with color marking:
// white (unvisited), gray (visiting), black (visited). A back edge to a
// gray node is a cycle.
func (g *Graph) Validate() error {
	colors := make(map[contracts.TaskID]int, len(g.nodes))
	for id := range g.nodes {
		if colors[id] == 0 {
			if g.hasCycle(id, colors) {
				return contracts.ErrDependencyCycle
			}
		}
	}
	return nil
}

func (g *Graph) hasCycle(id contracts.TaskID, colors map[contracts.TaskID]int) bool {
	colors[id] = 1 // gray
	for _, nextID := range g.nodes[id].next {
		switch colors[nextID] {
		case 1:
			return true
		case 0:
			if g.hasCycle(nextID, colors) {
				return true
			}
		}
	}
	colors[id] = 2 // black
	return false
}

// CycleMembers returns the tasks that sit on a dependency cycle, found
// via Tarjan's strongly connected components: every component of size
// greater than one, plus any task depending on itself. Tasks that are
// merely downstream of a cycle are not included; they get blocked when
// the cycle members fail. The result is sorted for determinism.
func (g *Graph) CycleMembers() []contracts.TaskID {
	t := &tarjan{
		g:       g,
		index:   make(map[contracts.TaskID]int, len(g.nodes)),
		lowlink: make(map[contracts.TaskID]int, len(g.nodes)),
		onStack: make(map[contracts.TaskID]bool, len(g.nodes)),
	}
	for id := range g.nodes {
		if _, seen := t.index[id]; !seen {
			t.strongconnect(id)
		}
	}

	var members []contracts.TaskID
	for _, scc := range t.components {
		if len(scc) > 1 {
			members = append(members, scc...)
			continue
		}
		id := scc[0]
		for _, dep := range g.nodes[id].deps {
			if dep == id {
				members = append(members, id)
				break
			}
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

type tarjan struct {
	g          *Graph
	next       int
	index      map[contracts.TaskID]int
	lowlink    map[contracts.TaskID]int
	stack      []contracts.TaskID
	onStack    map[contracts.TaskID]bool
	components [][]contracts.TaskID
}

func (t *tarjan) strongconnect(id contracts.TaskID) {
	t.index[id] = t.next
	t.lowlink[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	for _, succ := range t.g.nodes[id].next {
		if _, seen := t.index[succ]; !seen {
			t.strongconnect(succ)
			if t.lowlink[succ] < t.lowlink[id] {
				t.lowlink[id] = t.lowlink[succ]
			}
		} else if t.onStack[succ] && t.index[succ] < t.lowlink[id] {
			t.lowlink[id] = t.index[succ]
		}
	}

	if t.lowlink[id] != t.index[id] {
		return
	}
	var scc []contracts.TaskID
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		scc = append(scc, top)
		if top == id {
			break
		}
	}
	t.components = append(t.components, scc)
}

// OrderReady sorts dispatchable task ids deterministically: priority
// first, then creation time, then id. With one worker this fixes the
// full execution order.
func (g *Graph) OrderReady(ids []contracts.TaskID) []contracts.TaskID {
	sorted := append([]contracts.TaskID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := g.nodes[sorted[i]], g.nodes[sorted[j]]
		if a == nil || b == nil {
			return sorted[i] < sorted[j]
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.id < b.id
	})
	return sorted
}
