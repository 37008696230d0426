package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBroadcastFromRoot(t *testing.T) {
	var mu sync.Mutex
	got := make(map[int]string)
	err := Run(context.Background(), 4, func(ctx context.Context, c *Comm) error {
		value := ""
		if c.IsRoot() {
			value = "header"
		}
		out, err := Broadcast(ctx, c, Root, value)
		if err != nil {
			return err
		}
		mu.Lock()
		got[c.Rank()] = out
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for rank := 0; rank < 4; rank++ {
		if got[rank] != "header" {
			t.Fatalf("rank %d got %q", rank, got[rank])
		}
	}
}

func TestBarrierOrdersPhases(t *testing.T) {
	var before atomic.Int32
	err := Run(context.Background(), 5, func(ctx context.Context, c *Comm) error {
		time.Sleep(time.Duration(c.Rank()) * time.Millisecond)
		before.Add(1)
		if err := c.Barrier(ctx); err != nil {
			return err
		}
		if n := before.Load(); n != 5 {
			return errors.New("barrier released early")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestReductionsAtRoot(t *testing.T) {
	var sum int
	var maxVal float64
	err := Run(context.Background(), 3, func(ctx context.Context, c *Comm) error {
		s, err := c.ReduceSumInt(ctx, Root, c.Rank()+1)
		if err != nil {
			return err
		}
		m, err := c.ReduceMaxFloat(ctx, Root, float64(c.Rank())*1.5)
		if err != nil {
			return err
		}
		if c.IsRoot() {
			sum, maxVal = s, m
		} else if s != 0 || m != 0 {
			return errors.New("non-root received a reduction result")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum != 6 {
		t.Fatalf("sum: %d", sum)
	}
	if maxVal != 3 {
		t.Fatalf("max: %v", maxVal)
	}
}

func TestGatherIndexedByRank(t *testing.T) {
	var gathered []int
	err := Run(context.Background(), 4, func(ctx context.Context, c *Comm) error {
		out, err := Gather(ctx, c, Root, c.Rank()*c.Rank())
		if err != nil {
			return err
		}
		if c.IsRoot() {
			gathered = out
		} else if out != nil {
			return errors.New("non-root received gathered values")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for rank, v := range gathered {
		if v != rank*rank {
			t.Fatalf("rank %d: got %d", rank, v)
		}
	}
	if len(gathered) != 4 {
		t.Fatalf("gathered %d values", len(gathered))
	}
}

func TestWorkerErrorAbortsPeers(t *testing.T) {
	boom := errors.New("cannot open input")
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), 3, func(ctx context.Context, c *Comm) error {
			if c.Rank() == 2 {
				return boom
			}
			return c.Barrier(ctx)
		})
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected worker error, got %v", err)
		}
		var re *RankError
		if !errors.As(err, &re) || re.Rank != 2 {
			t.Fatalf("expected rank 2 error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("group deadlocked after worker error")
	}
}

func TestRunRejectsEmptyGroup(t *testing.T) {
	if err := Run(context.Background(), 0, func(context.Context, *Comm) error { return nil }); err == nil {
		t.Fatalf("expected error for size 0")
	}
}
