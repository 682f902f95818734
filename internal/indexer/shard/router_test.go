package shard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		total, n int
		sizes    []int
	}{
		{10, 3, []int{4, 3, 3}},
		{9, 3, []int{3, 3, 3}},
		{2, 4, []int{1, 1}},
		{0, 4, nil},
		{5, 0, []int{5}},
		{5, -2, []int{5}},
	}
	for _, tt := range tests {
		ranges := Split(tt.total, tt.n)
		if len(ranges) != len(tt.sizes) {
			t.Fatalf("Split(%d, %d) returned %d ranges, want %d", tt.total, tt.n, len(ranges), len(tt.sizes))
		}
		next := 0
		for i, r := range ranges {
			if r.Shard != i {
				t.Errorf("range %d has shard %d", i, r.Shard)
			}
			if r.Start != next {
				t.Errorf("Split(%d, %d): range %d starts at %d, want %d", tt.total, tt.n, i, r.Start, next)
			}
			if r.Len() != tt.sizes[i] {
				t.Errorf("Split(%d, %d): range %d len %d, want %d", tt.total, tt.n, i, r.Len(), tt.sizes[i])
			}
			next = r.End
		}
		if next != tt.total {
			t.Errorf("Split(%d, %d) covers %d positions", tt.total, tt.n, next)
		}
	}
}

func TestMap_ResultsInShardOrder(t *testing.T) {
	ranges := Split(100, 7)
	sums, err := Map(context.Background(), "test", ranges, func(_ context.Context, r Range) (int, error) {
		s := 0
		for i := r.Start; i < r.End; i++ {
			s += i
		}
		return s, nil
	})
	if err != nil {
		t.Fatalf("Map() error: %v", err)
	}
	total := 0
	for i, s := range sums {
		want := 0
		for j := ranges[i].Start; j < ranges[i].End; j++ {
			want += j
		}
		if s != want {
			t.Errorf("shard %d sum = %d, want %d", i, s, want)
		}
		total += s
	}
	if total != 4950 {
		t.Errorf("total = %d, want 4950", total)
	}
}

func TestMap_FailureAbortsStage(t *testing.T) {
	boom := errors.New("disk on fire")
	var completed atomic.Int32
	res, err := Map(context.Background(), "test", Split(8, 8), func(ctx context.Context, r Range) (int, error) {
		if r.Shard == 3 {
			return 0, boom
		}
		completed.Add(1)
		return r.Shard, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if res != nil {
		t.Errorf("expected no partial results, got %v", res)
	}
}

func TestMap_Empty(t *testing.T) {
	res, err := Map(context.Background(), "test", nil, func(context.Context, Range) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	if err != nil || len(res) != 0 {
		t.Fatalf("Map(nil) = %v, %v", res, err)
	}
}

func TestBarrel(t *testing.T) {
	if got := Barrel(23, 10); got != 3 {
		t.Errorf("Barrel(23, 10) = %d", got)
	}
	if got := Barrel(7, 1); got != 0 {
		t.Errorf("Barrel(7, 1) = %d", got)
	}
}
