package core

import (
	"context"
	"log"
	"strings"
)

// QueryEnhancer rewrites a follow-up question into a self-contained search query.
type QueryEnhancer struct {
	aggregator *Aggregator
	model      string
}

func NewQueryEnhancer(agg *Aggregator, model string) *QueryEnhancer {
	return &QueryEnhancer{aggregator: agg, model: model}
}

// Enhance never fails: without history, or on any error, it returns query unchanged.
func (e *QueryEnhancer) Enhance(ctx context.Context, query string, history []Message) string {
	if len(history) == 0 {
		return query
	}

	enhanced, err := e.aggregator.Complete(ctx, AggregatorRequest{
		Type:         CallEnhance,
		Model:        e.model,
		UserQuery:    query,
		ChatMessages: lastN(history, enhanceHistoryLimit),
	})
	if err != nil {
		log.Printf("Query enhancement failed, using original query: %v", err)
		return query
	}

	enhanced = strings.Trim(strings.TrimSpace(enhanced), "\"'`")
	if enhanced == "" {
		return query
	}
	return enhanced
}
