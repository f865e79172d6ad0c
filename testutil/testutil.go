// Package testutil provides fakes shared by the package tests: a scripted
// language-model provider, a deterministic embedder, and chunk builders.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/types"
)

// ScriptedProvider is an llm.Provider returning canned replies in order,
// with call counting and error injection.
type ScriptedProvider struct {
	mu sync.Mutex

	// Replies are returned in order; the last one repeats.
	Replies []string
	// RespondFunc, when set, computes the reply from the request instead.
	RespondFunc func(req *llm.CompletionRequest) string
	// Err fails every call when set.
	Err error
	// Delay simulates provider latency.
	Delay time.Duration

	calls    int
	requests []*llm.CompletionRequest
}

// NewScriptedProvider creates a provider that replies with the given texts.
func NewScriptedProvider(replies ...string) *ScriptedProvider {
	return &ScriptedProvider{Replies: replies}
}

func (p *ScriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	return p.respond(ctx, req)
}

func (p *ScriptedProvider) CompleteStream(ctx context.Context, req *llm.CompletionRequest, fn llm.StreamFunc) (*llm.Completion, error) {
	resp, err := p.respond(ctx, req)
	if err != nil {
		return nil, err
	}
	// Deliver in two deltas so callers exercise reassembly.
	mid := len(resp.Text) / 2
	for _, delta := range []string{resp.Text[:mid], resp.Text[mid:]} {
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) respond(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++

	if p.Err != nil {
		return nil, p.Err
	}
	var text string
	switch {
	case p.RespondFunc != nil:
		text = p.RespondFunc(req)
	case len(p.Replies) == 0:
		text = ""
	case idx < len(p.Replies):
		text = p.Replies[idx]
	default:
		text = p.Replies[len(p.Replies)-1]
	}
	return &llm.Completion{Text: text, Provider: "scripted", CreatedAt: time.Now()}, nil
}

// Calls reports how many completions were requested.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns the recorded requests.
func (p *ScriptedProvider) Requests() []*llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), p.requests...)
}

// HashEmbedder is a deterministic embedding.Provider: each token is hashed
// into a bucket, so texts sharing vocabulary get similar vectors. It counts
// calls for cache tests.
type HashEmbedder struct {
	mu sync.Mutex

	// Dim is the vector size; 32 when zero.
	Dim int
	// Err fails every call when set.
	Err error
	// Delay simulates backend latency.
	Delay time.Duration

	queryCalls int
	docCalls   int
}

func (e *HashEmbedder) dim() int {
	if e.Dim <= 0 {
		return 32
	}
	return e.Dim
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.queryCalls++
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.docCalls++
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int { return e.dim() }
func (e *HashEmbedder) Name() string    { return "hash" }

// QueryCalls reports the number of EmbedQuery invocations.
func (e *HashEmbedder) QueryCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryCalls
}

// DocCalls reports the number of EmbedDocuments invocations.
func (e *HashEmbedder) DocCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls
}

func (e *HashEmbedder) wait(ctx context.Context) error {
	if e.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(e.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dim())
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%len(vec)]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// Chunk builds a DocumentChunk for tests.
func Chunk(id string, domain types.Domain, doc, section, text string) types.DocumentChunk {
	return types.DocumentChunk{
		ID:     id,
		Domain: domain,
		Source: types.SourceRef{DocumentID: doc, Section: section},
		Text:   text,
	}
}
