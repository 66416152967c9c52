package graph

import "testing"

func TestApply_NoOpOnEmptyUpdate(t *testing.T) {
	s := State{"a": 1, "b": "x"}
	out, err := Apply(Schema{}, s, State{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 2 || out["a"] != 1 || out["b"] != "x" {
		t.Errorf("Apply with empty update changed state: %v", out)
	}
}

func TestApply_UnscheduledKeyOverwrites(t *testing.T) {
	s := State{"a": 1}
	out, err := Apply(Schema{}, s, State{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["a"] != 2 || out["b"] != 3 {
		t.Errorf("got %v, want a=2 b=3", out)
	}
}

func TestApply_UnscheduledKeyRemovalSentinelsOmit(t *testing.T) {
	s := State{"a": 1}
	out, err := Apply(Schema{}, s, State{"a": MarkForRemoval})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, exists := out["a"]; exists {
		t.Errorf("MarkForRemoval on unscheduled key left a present: %v", out)
	}
}

func TestBaseChannel_DefaultAndReset(t *testing.T) {
	ch := &BaseChannel{Default: func() any { return 0 }}
	schema := Schema{"count": ch}

	out, err := Apply(schema, State{}, State{"count": 5})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["count"] != 5 {
		t.Fatalf("count = %v, want 5", out["count"])
	}

	out, err = Apply(schema, out, State{"count": MarkForReset})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["count"] != 0 {
		t.Errorf("count after reset = %v, want default 0", out["count"])
	}
}

func TestBaseChannel_ReduceAccumulates(t *testing.T) {
	ch := &BaseChannel{
		Default: func() any { return 0 },
		Reduce: func(old, delta any) (any, error) {
			return old.(int) + delta.(int), nil
		},
	}
	schema := Schema{"total": ch}

	out, err := Apply(schema, State{}, State{"total": 3})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"total": 4})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["total"] != 7 {
		t.Errorf("total = %v, want 7", out["total"])
	}
}

func TestBaseChannel_RemovalOmitsKey(t *testing.T) {
	ch := &BaseChannel{}
	schema := Schema{"x": ch}

	out, err := Apply(schema, State{"x": 1}, State{"x": MarkForRemoval})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, exists := out["x"]; exists {
		t.Errorf("expected x removed, got %v", out)
	}
}

func TestAppenderChannel_AppendsInOrder(t *testing.T) {
	ch := &AppenderChannel{}
	schema := Schema{"messages": ch}

	out, err := Apply(schema, State{}, State{"messages": "hi"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"messages": []any{"there", "friend"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := out["messages"].([]any)
	want := []any{"hi", "there", "friend"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("messages[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAppenderChannel_DisallowDuplicates(t *testing.T) {
	ch := &AppenderChannel{Duplicates: DisallowDuplicates}
	schema := Schema{"tags": ch}

	out, err := Apply(schema, State{}, State{"tags": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"tags": []any{"b", "c"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := out["tags"].([]any)
	want := []any{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAppenderChannel_RemoveIdentifier(t *testing.T) {
	ch := &AppenderChannel{}
	schema := Schema{"items": ch}

	out, err := Apply(schema, State{}, State{"items": []any{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"items": RemoveIdentifier{
		Match: func(elem any, _ int) bool { return elem == "b" },
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := out["items"].([]any)
	want := []any{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAppenderChannel_ReplaceAllWith(t *testing.T) {
	ch := &AppenderChannel{}
	schema := Schema{"items": ch}

	out, err := Apply(schema, State{}, State{"items": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"items": ReplaceAllWith{Items: []any{"x"}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := out["items"].([]any)
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("got %v, want [x]", got)
	}
}

func TestAppenderChannel_ResetReturnsToDefault(t *testing.T) {
	ch := &AppenderChannel{Default: func() []any { return []any{"seed"} }}
	schema := Schema{"items": ch}

	out, err := Apply(schema, State{}, State{"items": "a"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err = Apply(schema, out, State{"items": MarkForReset})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := out["items"].([]any)
	if len(got) != 1 || got[0] != "seed" {
		t.Errorf("got %v, want [seed]", got)
	}
}

func TestSentinelsAreReferenceIdentity(t *testing.T) {
	if MarkForReset == nil || MarkForRemoval == nil {
		t.Fatal("sentinels must not be nil")
	}
	if MarkForReset == any(MarkForRemoval) {
		t.Fatal("distinct sentinels must not compare equal")
	}
	var otherReset any = &Sentinel{name: "MARK_FOR_RESET"}
	if otherReset == any(MarkForReset) {
		t.Fatal("a distinct Sentinel instance with the same name must not equal MarkForReset")
	}
}
