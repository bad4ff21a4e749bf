package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/metrics"
)

func newGenerator(llm Completer, r Retriever, m metrics.Recorder) *CandidateGenerator {
	agg := NewAggregator(llm, DefaultAggregatorConfig("test/model"), m)
	return NewCandidateGenerator(r, agg, GeneratorConfig{Model: "test/model", RetrievalModel: "retrieval/model", MaxParallel: 2}, m)
}

func contents(opts []ResponseOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Content
	}
	return out
}

func TestGenerate_ZeroCollectionsGivesContextualAndGuidance(t *testing.T) {
	llm := &fakeLLM{answer: func(CallType, []Message) (string, error) { return "general answer", nil }}
	retriever := &fakeRetriever{resp: &backend.EvaluateResponse{TotalCollections: intPtr(0)}}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{Query: "hello", UserEmail: "ada@example.com"})

	require.Len(t, gen.Options, 2)
	assert.Equal(t, "GPT Response (Contextual): general answer", gen.Options[0].Content)
	assert.True(t, strings.HasPrefix(gen.Options[1].Content, "No papers uploaded yet"))
	assert.Equal(t, 0, gen.TotalCollections)
	assert.Empty(t, gen.CollectionNames)
	assert.Empty(t, llm.callsOf(CallProcess))
}

func TestGenerate_SummarizesCollectionWithCitations(t *testing.T) {
	llm := &fakeLLM{answer: func(call CallType, messages []Message) (string, error) {
		if call == CallProcess {
			return "summary", nil
		}
		return "general", nil
	}}
	bio := backend.CollectionResult{Results: []backend.SearchResult{
		{Metadata: &backend.SnippetMetadata{Content: "Chlorophyll absorbs light.", Citation: "Smith 2020"}},
		{Metadata: &backend.SnippetMetadata{Content: "Calvin cycle fixes carbon."}},
	}}
	retriever := &fakeRetriever{resp: &backend.EvaluateResponse{
		TotalCollections:  intPtr(1),
		CollectionNames:   []string{"bio_papers"},
		CollectionResults: map[string]backend.CollectionResult{"bio_papers": bio},
	}}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{
		Query:         "How does photosynthesis work?",
		EnhancedQuery: "photosynthesis mechanism",
		UserEmail:     "ada@example.com",
	})

	assert.Equal(t, []string{"GPT Response (Contextual): general", "bio_papers: summary"}, contents(gen.Options))
	assert.Equal(t, 1, gen.TotalCollections)
	assert.Equal(t, []string{"bio_papers"}, gen.CollectionNames)
	assert.Equal(t, "test/model", gen.Model)

	req := retriever.lastRequest()
	assert.Equal(t, "photosynthesis mechanism", req.Query)
	assert.Equal(t, "retrieval/model", req.ModelName)
	assert.Equal(t, "ada@example.com", req.UserEmail)
	assert.Nil(t, req.DBPath)

	process := llm.callsOf(CallProcess)
	require.Len(t, process, 1)
	assert.Equal(t, "How does photosynthesis work?", process[0].Messages[1].Content)
	assert.Contains(t, process[0].Messages[0].Content, "Chlorophyll absorbs light.\nSource: Smith 2020\n\nCalvin cycle fixes carbon.")
	assert.Equal(t, "bio_papers", collectionOf(process[0].Messages))

	ids := map[string]bool{}
	for _, o := range gen.Options {
		assert.NotEmpty(t, o.ID)
		ids[o.ID] = true
	}
	assert.Len(t, ids, 2)
}

func TestGenerate_OrdersCollectionsByNameAndReportsProblems(t *testing.T) {
	llm := &fakeLLM{answer: func(call CallType, messages []Message) (string, error) {
		if call == CallProcess && collectionOf(messages) == "delta" {
			return "", errors.New("upstream 502")
		}
		if call == CallProcess {
			return "about " + collectionOf(messages), nil
		}
		return "general", nil
	}}
	retriever := &fakeRetriever{resp: &backend.EvaluateResponse{
		TotalCollections: intPtr(4),
		CollectionResults: map[string]backend.CollectionResult{
			"delta":   snippetResult("d1"),
			"alpha":   {Error: "index missing"},
			"charlie": snippetResult("c1"),
			"bravo":   snippetResult(""),
		},
	}}
	rec := &countingRecorder{}

	gen := newGenerator(llm, retriever, rec).Generate(context.Background(), GenerateInput{Query: "q"})

	assert.Equal(t, []string{
		"GPT Response (Contextual): general",
		"Collection alpha: Error - index missing",
		"Collection bravo: No content available",
		"charlie: about charlie",
		"Collection delta: Failed to process with AI. upstream 502",
	}, contents(gen.Options))
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, gen.CollectionNames)

	assert.Equal(t, map[string]int{
		kindContextual: 1,
		kindError:      1,
		kindEmpty:      1,
		kindCollection: 1,
		kindFailed:     1,
	}, rec.snapshot().candidates)
	assert.Equal(t, 1, rec.snapshot().llmCalls["process/error"])
}

func TestGenerate_ContextualFailureBecomesCandidate(t *testing.T) {
	llm := &fakeLLM{answer: func(call CallType, _ []Message) (string, error) {
		return "", errors.New("rate limited")
	}}
	retriever := &fakeRetriever{resp: &backend.EvaluateResponse{TotalCollections: intPtr(0)}}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{Query: "q"})

	require.Len(t, gen.Options, 2)
	assert.Equal(t, "GPT Response (Contextual): Failed to generate response. rate limited", gen.Options[0].Content)
}

func TestGenerate_RetrievalTransportFailure(t *testing.T) {
	llm := &fakeLLM{answer: func(CallType, []Message) (string, error) { return "general", nil }}
	retriever := &fakeRetriever{err: errors.New("dial tcp: connection refused")}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{Query: "q"})

	require.Len(t, gen.Options, 3)
	assert.Equal(t, "GPT Response (Contextual): general", gen.Options[0].Content)
	assert.Equal(t, "Error connecting to retrieval service: dial tcp: connection refused", gen.Options[1].Content)
	assert.Equal(t, 0, gen.TotalCollections)
}

func TestGenerate_RetrievalStatusFailure(t *testing.T) {
	llm := &fakeLLM{answer: func(CallType, []Message) (string, error) { return "general", nil }}
	retriever := &fakeRetriever{err: &backend.StatusError{Service: backend.Database, StatusCode: 503, Body: "down"}}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{Query: "q"})

	require.Len(t, gen.Options, 3)
	assert.Equal(t, "Error: Retrieval request failed with status 503. Please check the server connection.", gen.Options[1].Content)
}

func TestGenerate_UsesCustomPromptTemplate(t *testing.T) {
	llm := &fakeLLM{}
	retriever := &fakeRetriever{resp: &backend.EvaluateResponse{
		CollectionResults: map[string]backend.CollectionResult{"notes": snippetResult("n1")},
	}}

	gen := newGenerator(llm, retriever, nil).Generate(context.Background(), GenerateInput{
		Query:          "q",
		PromptTemplate: "Only {{collectionName}}: {{context}}",
	})

	require.Len(t, gen.Options, 2)
	assert.Equal(t, 1, gen.TotalCollections)
	process := llm.callsOf(CallProcess)
	require.Len(t, process, 1)
	assert.Equal(t, "Only notes: n1", process[0].Messages[0].Content)
}
