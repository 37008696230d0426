// Package cluster runs a fixed number of symmetric workers as goroutines and
// gives each one the collectives it needs to cooperate: broadcast, barrier and
// rooted reductions. Every collective must be entered by all ranks in the same
// order; a collective returns once every rank has arrived, or early with the
// context error when the group is aborted.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Root is the coordinating rank.
const Root = 0

type RankError struct {
	Rank int
	Err  error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("[%d] %v", e.Rank, e.Err)
}

func (e *RankError) Unwrap() error {
	return e.Err
}

// Comm is one worker's handle on the group.
type Comm struct {
	rank  int
	group *group
}

func (c *Comm) Rank() int {
	return c.rank
}

func (c *Comm) Size() int {
	return c.group.size
}

func (c *Comm) IsRoot() bool {
	return c.rank == Root
}

// Barrier blocks until every rank has called it.
func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.group.exchange(ctx, c.rank, nil)
	return err
}

// Run starts size workers and waits for all of them. The first worker error
// cancels the context seen by every other worker and is returned wrapped in a
// *RankError.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c *Comm) error) error {
	if size <= 0 {
		return fmt.Errorf("cluster size must be > 0, got %d", size)
	}
	grp := newGroup(size)
	eg, egCtx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := &Comm{rank: rank, group: grp}
		eg.Go(func() error {
			if err := fn(egCtx, c); err != nil {
				var re *RankError
				if errors.As(err, &re) {
					return err
				}
				return &RankError{Rank: c.rank, Err: err}
			}
			return nil
		})
	}
	return eg.Wait()
}

// Broadcast distributes root's value to every rank. The value passed by
// non-root ranks is ignored.
func Broadcast[T any](ctx context.Context, c *Comm, root int, value T) (T, error) {
	var zero T
	if err := c.checkRoot(root); err != nil {
		return zero, err
	}
	var contribution any
	if c.rank == root {
		contribution = value
	}
	values, err := c.group.exchange(ctx, c.rank, contribution)
	if err != nil {
		return zero, err
	}
	out, ok := values[root].(T)
	if !ok {
		return zero, fmt.Errorf("broadcast from rank %d: unexpected value type %T", root, values[root])
	}
	return out, nil
}

// Reduce combines every rank's value with op in rank order. Only root receives
// the result; other ranks get the zero value once the reduction completes.
func Reduce[T any](ctx context.Context, c *Comm, root int, value T, op func(a, b T) T) (T, error) {
	var zero T
	if err := c.checkRoot(root); err != nil {
		return zero, err
	}
	values, err := c.group.exchange(ctx, c.rank, value)
	if err != nil {
		return zero, err
	}
	if c.rank != root {
		return zero, nil
	}
	acc := values[0].(T)
	for _, v := range values[1:] {
		acc = op(acc, v.(T))
	}
	return acc, nil
}

// Gather collects every rank's value at root, indexed by rank. Other ranks
// get nil.
func Gather[T any](ctx context.Context, c *Comm, root int, value T) ([]T, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	values, err := c.group.exchange(ctx, c.rank, value)
	if err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = v.(T)
	}
	return out, nil
}

func (c *Comm) ReduceSumInt(ctx context.Context, root int, value int) (int, error) {
	return Reduce(ctx, c, root, value, func(a, b int) int { return a + b })
}

func (c *Comm) ReduceMaxFloat(ctx context.Context, root int, value float64) (float64, error) {
	return Reduce(ctx, c, root, value, func(a, b float64) float64 {
		if b > a {
			return b
		}
		return a
	})
}

func (c *Comm) checkRoot(root int) error {
	if root < 0 || root >= c.group.size {
		return fmt.Errorf("root rank %d out of range [0,%d)", root, c.group.size)
	}
	return nil
}

type round struct {
	values  []any
	arrived int
	done    chan struct{}
}

type group struct {
	size    int
	mu      sync.Mutex
	current *round
}

func newGroup(size int) *group {
	return &group{size: size}
}

// exchange deposits one value per rank and returns all of them once the round
// is complete. A rank cannot enter the next round before the current one
// closes, so consecutive collectives never mix.
func (g *group) exchange(ctx context.Context, rank int, value any) ([]any, error) {
	g.mu.Lock()
	if g.current == nil {
		g.current = &round{values: make([]any, g.size), done: make(chan struct{})}
	}
	r := g.current
	r.values[rank] = value
	r.arrived++
	if r.arrived == g.size {
		g.current = nil
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
		return r.values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
