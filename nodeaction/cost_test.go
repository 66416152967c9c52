package nodeaction

import "testing"

func TestCostTracker_RecordLLMCall_AccumulatesAndAttributes(t *testing.T) {
	ct := NewCostTracker("run-1", "USD")
	ct.RecordLLMCall("gpt-4o", 1000, 500, "nodeA")
	ct.RecordLLMCall("claude-3-opus-20240229", 2000, 800, "nodeB")

	if ct.TotalCost() <= 0 {
		t.Fatalf("TotalCost = %v, want > 0", ct.TotalCost())
	}
	byModel := ct.CostByModel()
	if _, ok := byModel["gpt-4o"]; !ok {
		t.Error("expected gpt-4o attributed in CostByModel")
	}
	if _, ok := byModel["claude-3-opus-20240229"]; !ok {
		t.Error("expected claude-3-opus-20240229 attributed in CostByModel")
	}

	input, output := ct.TokenUsage()
	if input != 3000 || output != 1300 {
		t.Errorf("TokenUsage = (%d, %d), want (3000, 1300)", input, output)
	}
}

func TestCostTracker_UnknownModelRecordsZeroCost(t *testing.T) {
	ct := NewCostTracker("run-1", "USD")
	ct.RecordLLMCall("some-future-model", 1000, 1000, "node")

	if ct.TotalCost() != 0 {
		t.Errorf("TotalCost = %v, want 0 for an unpriced model", ct.TotalCost())
	}
	if len(ct.Calls()) != 1 {
		t.Errorf("expected the call to still be recorded, got %d calls", len(ct.Calls()))
	}
}

func TestCostTracker_DisableStopsRecording(t *testing.T) {
	ct := NewCostTracker("run-1", "USD")
	ct.Disable()
	ct.RecordLLMCall("gpt-4o", 1000, 1000, "node")

	if len(ct.Calls()) != 0 {
		t.Errorf("expected no calls recorded while disabled, got %d", len(ct.Calls()))
	}

	ct.Enable()
	ct.RecordLLMCall("gpt-4o", 1000, 1000, "node")
	if len(ct.Calls()) != 1 {
		t.Errorf("expected recording to resume after Enable, got %d calls", len(ct.Calls()))
	}
}

func TestCostTracker_SetCustomPricing(t *testing.T) {
	ct := NewCostTracker("run-1", "USD")
	ct.SetCustomPricing("enterprise-model", 1.0, 2.0)
	ct.RecordLLMCall("enterprise-model", 1_000_000, 1_000_000, "node")

	if got := ct.TotalCost(); got != 3.0 {
		t.Errorf("TotalCost = %v, want 3.0", got)
	}
}
