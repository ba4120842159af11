// Package oracle assembles resolution-evidence bundles and publishes them
// through the durable-evidence store. The engine treats the resulting
// pointers and the resolver's reasoning as opaque; nothing here validates
// the semantic correctness of an outcome.
//
// A bundle carries deterministic SHA-256 digests of the prompts and
// source data that produced the outcome, so an off-chain verifier can
// re-derive and compare them against an attested inference run.
package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/walmarket/settlement-engine/internal/evidence"
	"github.com/walmarket/settlement-engine/internal/model"
)

// Source is one data source consulted during resolution.
type Source struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Data string `json:"data"`
}

// Bundle is the full evidence package for one resolution. The encrypted
// variant of this bundle is what premium access passes unlock.
type Bundle struct {
	MarketID           string        `json:"market_id"`
	Question           string        `json:"question"`
	ResolutionCriteria string        `json:"resolution_criteria"`
	Sources            []Source      `json:"sources"`
	Outcome            model.Outcome `json:"outcome"`
	Reasoning          string        `json:"reasoning"`
	PromptHash         string        `json:"prompt_hash"`
	SourcesHash        string        `json:"sources_hash"`
	CreatedAt          time.Time     `json:"created_at"`
}

// summary is the public view of a resolution: outcome only, no reasoning,
// no sources.
type summary struct {
	MarketID   string        `json:"market_id"`
	Outcome    model.Outcome `json:"outcome"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

// HashPrompt returns the deterministic digest of the prompt pair fed to
// the inference process.
func HashPrompt(systemPrompt, userPrompt string) string {
	sum := sha256.Sum256([]byte(systemPrompt + "|||" + userPrompt))
	return hex.EncodeToString(sum[:])
}

// HashSources normalizes and digests the source data so two bundles built
// from the same inputs hash identically regardless of map ordering
// upstream.
func HashSources(sources []Source) string {
	var b strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&b, "Source: %s\nURL: %s\nData: %s\n---\n", s.ID, s.URL, s.Data)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NewBundle builds an evidence bundle with its digests filled in.
func NewBundle(marketID, question, criteria string, sources []Source, outcome model.Outcome, reasoning, systemPrompt, userPrompt string) *Bundle {
	return &Bundle{
		MarketID:           marketID,
		Question:           question,
		ResolutionCriteria: criteria,
		Sources:            sources,
		Outcome:            outcome,
		Reasoning:          reasoning,
		PromptHash:         HashPrompt(systemPrompt, userPrompt),
		SourcesHash:        HashSources(sources),
		CreatedAt:          time.Now().UTC(),
	}
}

// Publisher uploads evidence bundles and their public summaries.
type Publisher struct {
	blobs evidence.BlobStore
}

// NewPublisher creates a publisher backed by the given blob store.
func NewPublisher(blobs evidence.BlobStore) *Publisher {
	return &Publisher{blobs: blobs}
}

// Publish stores the full bundle and its public summary, returning the
// gated pointer and the public pointer in that order. Pointers are
// opaque; encryption of the full bundle is delegated to the external
// policy the access layer references.
func (p *Publisher) Publish(ctx context.Context, b *Bundle) (evidencePtr, publicPtr string, err error) {
	full, err := json.Marshal(b)
	if err != nil {
		return "", "", fmt.Errorf("oracle: marshal bundle: %w", err)
	}
	evidencePtr, err = p.blobs.Put(ctx, b.MarketID+"/full", full)
	if err != nil {
		return "", "", err
	}

	pub, err := json.Marshal(summary{
		MarketID:   b.MarketID,
		Outcome:    b.Outcome,
		ResolvedAt: b.CreatedAt,
	})
	if err != nil {
		return "", "", fmt.Errorf("oracle: marshal summary: %w", err)
	}
	publicPtr, err = p.blobs.Put(ctx, b.MarketID+"/summary", pub)
	if err != nil {
		return "", "", err
	}

	return evidencePtr, publicPtr, nil
}
