package fn

import (
	"errors"
	"testing"
)

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * v })
	if len(out) != 3 || out[0] != 1 || out[1] != 4 || out[2] != 9 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFilter(t *testing.T) {
	out := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(out) != 2 || out[0] != 2 || out[1] != 4 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestGroupBy(t *testing.T) {
	items := []string{"apple", "avocado", "banana", "blueberry", "cherry"}
	groups := GroupBy(items, func(s string) byte { return s[0] })
	if len(groups['a']) != 2 {
		t.Fatalf("expected 2 items under 'a', got %d", len(groups['a']))
	}
	if len(groups['b']) != 2 {
		t.Fatalf("expected 2 items under 'b', got %d", len(groups['b']))
	}
	if len(groups['c']) != 1 {
		t.Fatalf("expected 1 item under 'c', got %d", len(groups['c']))
	}
}

func TestSortBy(t *testing.T) {
	items := []struct{ Name string }{{"zeta"}, {"alpha"}, {"mid"}}
	SortBy(items, func(v struct{ Name string }) string { return v.Name })
	if items[0].Name != "alpha" || items[2].Name != "zeta" {
		t.Fatalf("unexpected order: %v", items)
	}
}

func TestUniqueBy(t *testing.T) {
	items := []string{"aa", "ab", "ba", "bb"}
	out := UniqueBy(items, func(s string) byte { return s[0] })
	if len(out) != 2 || out[0] != "aa" || out[1] != "ba" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFanOutResultAllOk(t *testing.T) {
	r := FanOutResult(
		func() Result[int] { return Ok(1) },
		func() Result[int] { return Ok(2) },
	)
	vals, err := r.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 2 {
		t.Fatalf("unexpected values: %v", vals)
	}
}

func TestFanOutResultFirstError(t *testing.T) {
	boom := errors.New("boom")
	r := FanOutResult(
		func() Result[int] { return Ok(1) },
		func() Result[int] { return Err[int](boom) },
	)
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestCollectShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	r := Collect([]Result[string]{Ok("a"), Err[string](boom), Ok("c")})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
