package oracle_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/walmarket/settlement-engine/internal/evidence"
	"github.com/walmarket/settlement-engine/internal/model"
	"github.com/walmarket/settlement-engine/internal/oracle"
)

func TestHashPrompt_Deterministic(t *testing.T) {
	a := oracle.HashPrompt("system", "user")
	b := oracle.HashPrompt("system", "user")
	if a != b {
		t.Errorf("same prompts must hash identically: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashPrompt_SeparatesSystemFromUser(t *testing.T) {
	// The separator keeps ("ab","c") and ("a","bc") from colliding.
	if oracle.HashPrompt("ab", "c") == oracle.HashPrompt("a", "bc") {
		t.Error("prompt boundary must affect the digest")
	}
}

func TestHashSources_Deterministic(t *testing.T) {
	sources := []oracle.Source{
		{ID: "s1", URL: "https://example.com/a", Data: "rain recorded"},
		{ID: "s2", URL: "https://example.com/b", Data: "no rain"},
	}
	if oracle.HashSources(sources) != oracle.HashSources(sources) {
		t.Error("same sources must hash identically")
	}

	changed := []oracle.Source{sources[0], {ID: "s2", URL: "https://example.com/b", Data: "rain"}}
	if oracle.HashSources(sources) == oracle.HashSources(changed) {
		t.Error("changed source data must change the digest")
	}
}

func TestPublish_RoundTrip(t *testing.T) {
	blobs := evidence.NewMemoryStore()
	pub := oracle.NewPublisher(blobs)
	ctx := context.Background()

	bundle := oracle.NewBundle("m1", "Will it rain?", "official gauge > 0mm",
		[]oracle.Source{{ID: "s1", URL: "https://example.com", Data: "5mm"}},
		model.OutcomeYes, "gauge shows rain", "system prompt", "user prompt")

	evidencePtr, publicPtr, err := pub.Publish(ctx, bundle)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if evidencePtr == publicPtr {
		t.Error("full bundle and summary must not share a pointer")
	}

	// The gated pointer resolves to the full bundle.
	raw, err := blobs.Get(ctx, evidencePtr)
	if err != nil {
		t.Fatalf("failed to fetch evidence blob: %v", err)
	}
	var got oracle.Bundle
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("evidence blob is not a bundle: %v", err)
	}
	if got.Outcome != model.OutcomeYes || got.Reasoning != "gauge shows rain" {
		t.Errorf("unexpected bundle contents: outcome=%s reasoning=%q", got.Outcome, got.Reasoning)
	}
	if got.PromptHash != oracle.HashPrompt("system prompt", "user prompt") {
		t.Error("bundle prompt hash does not match inputs")
	}
}

func TestPublish_SummaryOmitsReasoningAndSources(t *testing.T) {
	blobs := evidence.NewMemoryStore()
	pub := oracle.NewPublisher(blobs)
	ctx := context.Background()

	bundle := oracle.NewBundle("m1", "q", "c",
		[]oracle.Source{{ID: "s1", Data: "secret detail"}},
		model.OutcomeNo, "secret reasoning", "sp", "up")

	_, publicPtr, err := pub.Publish(ctx, bundle)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	raw, err := blobs.Get(ctx, publicPtr)
	if err != nil {
		t.Fatalf("failed to fetch summary blob: %v", err)
	}

	var summary map[string]interface{}
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("summary blob is not JSON: %v", err)
	}
	if summary["outcome"] != "no" {
		t.Errorf("expected outcome in summary, got %v", summary["outcome"])
	}
	for _, key := range []string{"reasoning", "sources", "prompt_hash"} {
		if _, ok := summary[key]; ok {
			t.Errorf("summary must not carry %q", key)
		}
	}
}
