// README: Presence tests: random fan-out selection and the memory registry.
package presence

import (
	"context"
	"fmt"
	"testing"

	"zemi/internal/types"
)

func makeDriverPool(n int) []types.ID {
	pool := make([]types.ID, n)
	for i := range pool {
		pool[i] = types.ID(fmt.Sprintf("d%d", i))
	}
	return pool
}

func assertUnique(t *testing.T, ids []types.ID) {
	t.Helper()
	seen := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate driver %s in %v", id, ids)
		}
		seen[id] = true
	}
}

func TestPickRandomDrivers(t *testing.T) {
	cases := []struct {
		name string
		pool []types.ID
		n    int
		want int
	}{
		{"normal", makeDriverPool(10), 5, 5},
		{"fewer than n", makeDriverPool(3), 10, 3},
		{"exact", makeDriverPool(5), 5, 5},
		{"empty pool", nil, 5, 0},
		{"zero n", makeDriverPool(5), 0, 0},
		{"negative n", makeDriverPool(5), -1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PickRandomDrivers(tc.pool, tc.n)
			if len(got) != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, len(got))
			}
			assertUnique(t, got)
		})
	}
}

func TestPickRandomDriversDoesNotMutatePool(t *testing.T) {
	pool := makeDriverPool(5)
	orig := make([]types.ID, len(pool))
	copy(orig, pool)
	PickRandomDrivers(pool, 3)
	for i := range pool {
		if pool[i] != orig[i] {
			t.Fatalf("pool mutated at %d: %s != %s", i, pool[i], orig[i])
		}
	}
}

func TestMemoryPresenceTargets(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 2)

	for _, id := range []types.ID{"d1", "d2", "d3"} {
		if err := svc.SetOnline(ctx, id); err != nil {
			t.Fatalf("set online: %v", err)
		}
	}
	if err := svc.SetOffline(ctx, "d2"); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if ok, _ := svc.IsOnline(ctx, "d2"); ok {
		t.Fatalf("d2 should be offline")
	}
	targets, err := svc.Targets(ctx)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %v", targets)
	}
	for _, id := range targets {
		if id == "d2" {
			t.Fatalf("offline driver targeted")
		}
	}
}
