package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/metrics"
)

const (
	contextualLabel = "GPT Response (Contextual)"

	noPapersMessage = "No papers uploaded yet. Upload research papers to a collection to get answers grounded in your own documents; the general response above does not use any of your files."

	kindContextual = "contextual"
	kindCollection = "collection"
	kindError      = "collection_error"
	kindEmpty      = "collection_empty"
	kindFailed     = "llm_failure"
	kindDiagnostic = "diagnostic"
)

// ResponseOption is one candidate answer shown to the user before resolution.
type ResponseOption struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Score   *int   `json:"score,omitempty"`
}

// Retriever searches the user's collections.
type Retriever interface {
	Evaluate(ctx context.Context, req backend.EvaluateRequest) (*backend.EvaluateResponse, error)
}

type GenerateInput struct {
	Query          string
	EnhancedQuery  string
	Collections    []string
	UserEmail      string
	History        []Message
	PromptTemplate string
}

// Generation is the candidate list plus the retrieval metadata recorded with the evaluation.
type Generation struct {
	Options          []ResponseOption
	TotalCollections int
	CollectionNames  []string
	Model            string
}

type GeneratorConfig struct {
	Model          string // LLM used for contextual and per-collection calls
	RetrievalModel string // model_name passed to the retrieval backend
	MaxParallel    int
}

type CandidateGenerator struct {
	retriever  Retriever
	aggregator *Aggregator
	cfg        GeneratorConfig
	metrics    metrics.Recorder
}

func NewCandidateGenerator(r Retriever, agg *Aggregator, cfg GeneratorConfig, m metrics.Recorder) *CandidateGenerator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	return &CandidateGenerator{retriever: r, aggregator: agg, cfg: cfg, metrics: orNop(m)}
}

// slot is one position in the final candidate list. Slots with a call are filled by
// their own goroutine; every other slot is fixed when it is created.
type slot struct {
	kind    string
	content string
	call    *AggregatorRequest
	label   string // prefix for a successful call
	failure string // prefix for a failed call
}

// Generate never fails: every upstream problem becomes a candidate. The contextual
// response is always first; collection candidates follow sorted by collection name.
func (g *CandidateGenerator) Generate(ctx context.Context, in GenerateInput) Generation {
	history := in.History
	if history == nil {
		history = []Message{}
	}
	searchQuery := in.EnhancedQuery
	if searchQuery == "" {
		searchQuery = in.Query
	}

	var group errgroup.Group
	group.SetLimit(g.cfg.MaxParallel)

	// The contextual call does not depend on retrieval, so it starts before it.
	contextual := &slot{
		kind: kindContextual,
		call: &AggregatorRequest{
			Type:         CallContextual,
			Model:        g.cfg.Model,
			UserQuery:    in.Query,
			ChatMessages: history,
		},
		label:   contextualLabel + ": ",
		failure: contextualLabel + ": Failed to generate response. ",
	}
	g.schedule(ctx, &group, contextual)

	gen := Generation{Model: g.cfg.Model}
	var slots []*slot

	eval, err := g.retriever.Evaluate(ctx, backend.EvaluateRequest{
		Query:       searchQuery,
		Collections: in.Collections,
		ModelName:   g.cfg.RetrievalModel,
		UserEmail:   in.UserEmail,
	})
	if err == nil && eval == nil {
		err = errors.New("empty response from retrieval service")
	}
	switch {
	case err != nil:
		log.Printf("Retrieval failed for user %s: %v", in.UserEmail, err)
		slots = retrievalFailureSlots(err)

	case eval.Total() == 0:
		gen.CollectionNames = []string{}
		slots = []*slot{{kind: kindDiagnostic, content: noPapersMessage}}

	default:
		gen.TotalCollections = eval.Total()
		gen.CollectionNames = collectionNames(eval)
		slots = g.collectionSlots(in, eval)
	}

	// slots is complete before any of its goroutines start.
	for _, s := range slots {
		if s.call != nil {
			g.schedule(ctx, &group, s)
		}
	}
	_ = group.Wait() // tasks never return errors; this is an all-settled join

	gen.Options = make([]ResponseOption, 0, len(slots)+1)
	for _, s := range append([]*slot{contextual}, slots...) {
		g.metrics.IncCandidate(s.kind)
		gen.Options = append(gen.Options, ResponseOption{ID: uuid.NewString(), Content: s.content})
	}
	return gen
}

func (g *CandidateGenerator) schedule(ctx context.Context, group *errgroup.Group, s *slot) {
	req := *s.call
	group.Go(func() error {
		content, err := g.aggregator.Complete(ctx, req)
		if err != nil {
			log.Printf("Aggregator %s call failed (collection %q): %v", req.Type, req.CollectionName, err)
			s.kind = kindFailed
			s.content = s.failure + err.Error()
			return nil
		}
		s.content = s.label + content
		return nil
	})
}

func (g *CandidateGenerator) collectionSlots(in GenerateInput, eval *backend.EvaluateResponse) []*slot {
	template := in.PromptTemplate
	if template == "" {
		template = DefaultResearchPrompt
	}

	names := make([]string, 0, len(eval.CollectionResults))
	for name := range eval.CollectionResults {
		names = append(names, name)
	}
	sort.Strings(names)

	slots := make([]*slot, 0, len(names))
	for _, name := range names {
		result := eval.CollectionResults[name]
		if result.Error != "" {
			slots = append(slots, &slot{
				kind:    kindError,
				content: fmt.Sprintf("Collection %s: Error - %s", name, result.Error),
			})
			continue
		}

		snippets := result.Snippets()
		if len(snippets) == 0 {
			slots = append(slots, &slot{
				kind:    kindEmpty,
				content: fmt.Sprintf("Collection %s: No content available", name),
			})
			continue
		}

		slots = append(slots, &slot{
			kind: kindCollection,
			call: &AggregatorRequest{
				Type:           CallProcess,
				Model:          g.cfg.Model,
				UserQuery:      in.Query, // the original question, not the enhanced one
				Contents:       snippets,
				CollectionName: name,
				CustomPrompt:   template,
			},
			label:   name + ": ",
			failure: fmt.Sprintf("Collection %s: Failed to process with AI. ", name),
		})
	}
	return slots
}

func retrievalFailureSlots(err error) []*slot {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return []*slot{
			{kind: kindDiagnostic, content: fmt.Sprintf("Error: Retrieval request failed with status %d. Please check the server connection.", statusErr.StatusCode)},
			{kind: kindDiagnostic, content: "The database server might not be running or the endpoint might be incorrect. The general response above is still available."},
		}
	}
	return []*slot{
		{kind: kindDiagnostic, content: fmt.Sprintf("Error connecting to retrieval service: %v", err)},
		{kind: kindDiagnostic, content: "Check that the database server is reachable. You can keep chatting with the general response above while the connection is fixed."},
	}
}

func collectionNames(eval *backend.EvaluateResponse) []string {
	if len(eval.CollectionNames) > 0 {
		return eval.CollectionNames
	}
	names := make([]string, 0, len(eval.CollectionResults))
	for name := range eval.CollectionResults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
