package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"gwi.com/research-chat/internal/backend"
)

// fakeLLM answers by call type, detected from the system prompt.
type fakeLLM struct {
	mu     sync.Mutex
	calls  []fakeCall
	answer func(call CallType, messages []Message) (string, error)
}

type fakeCall struct {
	Type     CallType
	Messages []Message
	Params   Params
}

func callTypeOf(messages []Message) CallType {
	if len(messages) == 0 || messages[0].Role != RoleSystem {
		return ""
	}
	switch {
	case strings.HasPrefix(messages[0].Content, "You are a query enhancement assistant"):
		return CallEnhance
	case strings.HasPrefix(messages[0].Content, "You are a helpful AI assistant"):
		return CallContextual
	default:
		return CallProcess
	}
}

func (f *fakeLLM) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	call := callTypeOf(messages)
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Type: call, Messages: messages, Params: params})
	f.mu.Unlock()
	if f.answer == nil {
		return "ok", nil
	}
	return f.answer(call, messages)
}

func (f *fakeLLM) callsOf(t CallType) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// collectionOf returns the collection name of a process call.
func collectionOf(messages []Message) string {
	system := messages[0].Content
	start := strings.Index(system, `collection "`)
	if start < 0 {
		return ""
	}
	rest := system[start+len(`collection "`):]
	return rest[:strings.Index(rest, `"`)]
}

type fakeRetriever struct {
	mu       sync.Mutex
	requests []backend.EvaluateRequest
	resp     *backend.EvaluateResponse
	err      error
	// when set, Evaluate signals entered and blocks until release is closed
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRetriever) Evaluate(ctx context.Context, req backend.EvaluateRequest) (*backend.EvaluateResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.resp, f.err
}

func (f *fakeRetriever) lastRequest() backend.EvaluateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeEvaluationStore struct {
	mu      sync.Mutex
	records []backend.EvaluationRecord
	err     error
}

func (f *fakeEvaluationStore) StoreEvaluation(ctx context.Context, rec backend.EvaluationRecord) (*backend.StoreEvaluationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.records = append(f.records, rec)
	return &backend.StoreEvaluationResponse{Success: true, EvaluationID: "eval-1"}, nil
}

func (f *fakeEvaluationStore) all() []backend.EvaluationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.EvaluationRecord(nil), f.records...)
}

func intPtr(n int) *int { return &n }

func snippetResult(contents ...string) backend.CollectionResult {
	var r backend.CollectionResult
	for _, c := range contents {
		r.Results = append(r.Results, backend.SearchResult{Metadata: &backend.SnippetMetadata{Content: c}})
	}
	return r
}

// countingRecorder is an in-memory metrics.Recorder.
type countingRecorder struct {
	mu          sync.Mutex
	candidates  map[string]int
	llmCalls    map[string]int // "type/outcome"
	resolutions map[string]int
	evaluations map[string]int
}

func bump(m *map[string]int, key string) {
	if *m == nil {
		*m = map[string]int{}
	}
	(*m)[key]++
}

func (r *countingRecorder) ObserveLLMCall(callType, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(&r.llmCalls, callType+"/"+outcome)
}

func (r *countingRecorder) IncCandidate(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(&r.candidates, kind)
}

func (r *countingRecorder) IncResolution(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(&r.resolutions, mode)
}

func (r *countingRecorder) IncEvaluation(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(&r.evaluations, outcome)
}

type recorderCounts struct {
	candidates  map[string]int
	llmCalls    map[string]int
	resolutions map[string]int
	evaluations map[string]int
}

func (r *countingRecorder) snapshot() recorderCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := func(m map[string]int) map[string]int {
		out := make(map[string]int, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return recorderCounts{
		candidates:  cp(r.candidates),
		llmCalls:    cp(r.llmCalls),
		resolutions: cp(r.resolutions),
		evaluations: cp(r.evaluations),
	}
}
