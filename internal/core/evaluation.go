package core

import (
	"context"
	"log"
	"sync"
	"time"

	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/metrics"
)

// EvaluationStore persists evaluation records remotely.
type EvaluationStore interface {
	StoreEvaluation(ctx context.Context, rec backend.EvaluationRecord) (*backend.StoreEvaluationResponse, error)
}

// EvaluationRecorder ships evaluation records in the background. A failed record is
// logged and dropped.
type EvaluationRecorder struct {
	store   EvaluationStore
	timeout time.Duration
	metrics metrics.Recorder
	wg      sync.WaitGroup
}

func NewEvaluationRecorder(store EvaluationStore, timeout time.Duration, m metrics.Recorder) *EvaluationRecorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EvaluationRecorder{store: store, timeout: timeout, metrics: orNop(m)}
}

// Record returns immediately. The request runs detached from the caller's context so a
// finished HTTP request does not cancel it.
func (r *EvaluationRecorder) Record(rec backend.EvaluationRecord) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		resp, err := r.store.StoreEvaluation(ctx, rec)
		if err != nil {
			r.metrics.IncEvaluation("error")
			log.Printf("Failed to store evaluation for chat %s (user %s): %v", rec.ChatID, rec.UserEmail, err)
			return
		}
		if !resp.Success {
			r.metrics.IncEvaluation("rejected")
			log.Printf("Evaluation store rejected record for chat %s: %s", rec.ChatID, resp.Message)
			return
		}
		r.metrics.IncEvaluation("stored")
		log.Printf("Stored evaluation %s for chat %s", resp.EvaluationID, rec.ChatID)
	}()
}

// Wait blocks until every in-flight record has finished.
func (r *EvaluationRecorder) Wait() {
	r.wg.Wait()
}

// BuildEvaluationRecord assembles the record for a resolved exchange. Options carry
// their score in scoring mode and their rank position in ranking mode.
func BuildEvaluationRecord(userEmail, chatID, query string, options []ResponseOption, res *Resolution, gen Generation, at time.Time) backend.EvaluationRecord {
	recOptions := make([]backend.EvaluationOption, 0, len(options))
	for _, opt := range options {
		eo := backend.EvaluationOption{ID: opt.ID, Content: opt.Content}
		if score, ok := res.Scores[opt.ID]; ok {
			eo.Score = &score
		}
		if rank, ok := res.Ranks[opt.ID]; ok {
			eo.Rank = &rank
		}
		recOptions = append(recOptions, eo)
	}

	names := gen.CollectionNames
	if names == nil {
		names = []string{}
	}
	return backend.EvaluationRecord{
		UserEmail:        userEmail,
		Query:            query,
		Mode:             string(res.Mode),
		Options:          recOptions,
		SelectedOptionID: res.Option.ID,
		ChatID:           chatID,
		Timestamp:        at.UTC().Format(time.RFC3339Nano),
		Metadata: backend.EvaluationMetadata{
			Model:            gen.Model,
			TotalCollections: gen.TotalCollections,
			CollectionNames:  names,
		},
	}
}
