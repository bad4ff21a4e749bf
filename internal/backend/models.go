package backend

import "fmt"

// Service names one of the three backend servers.
type Service string

const (
	Light    Service = "light"
	Heavy    Service = "heavy"
	Database Service = "database"
)

// EvaluateRequest asks the database server to search the user's collections.
type EvaluateRequest struct {
	Query       string   `json:"query"`
	Collections []string `json:"collections,omitempty"`
	DBPath      *string  `json:"db_path"`
	ModelName   string   `json:"model_name"`
	UserEmail   string   `json:"user_email"`
}

type SnippetMetadata struct {
	Content  string `json:"content"`
	Citation string `json:"citation,omitempty"`
}

type SearchResult struct {
	Metadata *SnippetMetadata `json:"metadata,omitempty"`
}

// CollectionResult carries either results or an error for one named collection.
type CollectionResult struct {
	Results []SearchResult `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Snippets returns the non-empty content of each result, with its citation appended
// on a trailing "Source:" line when present.
func (r CollectionResult) Snippets() []string {
	var out []string
	for _, res := range r.Results {
		if res.Metadata == nil || res.Metadata.Content == "" {
			continue
		}
		text := res.Metadata.Content
		if res.Metadata.Citation != "" {
			text += "\nSource: " + res.Metadata.Citation
		}
		out = append(out, text)
	}
	return out
}

type EvaluateResponse struct {
	TotalCollections  *int                        `json:"total_collections,omitempty"`
	CollectionNames   []string                    `json:"collection_names,omitempty"`
	UserEmail         string                      `json:"user_email,omitempty"`
	CollectionResults map[string]CollectionResult `json:"collection_results,omitempty"`
}

// Total falls back to the number of returned collections when the server omits the count.
func (r *EvaluateResponse) Total() int {
	if r.TotalCollections != nil {
		return *r.TotalCollections
	}
	return len(r.CollectionResults)
}

// EvaluationOption is one candidate as recorded for offline analysis.
type EvaluationOption struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Score   *int   `json:"score,omitempty"`
	Rank    *int   `json:"rank,omitempty"`
}

type EvaluationMetadata struct {
	Model            string   `json:"model"`
	TotalCollections int      `json:"total_collections"`
	CollectionNames  []string `json:"collection_names"`
}

type EvaluationRecord struct {
	UserEmail        string             `json:"user_email"`
	Query            string             `json:"query"`
	Mode             string             `json:"mode"`
	Options          []EvaluationOption `json:"options"`
	SelectedOptionID string             `json:"selected_option_id"`
	ChatID           string             `json:"chat_id"`
	Timestamp        string             `json:"timestamp"`
	Metadata         EvaluationMetadata `json:"metadata"`
}

type StoreEvaluationResponse struct {
	Success      bool   `json:"success"`
	EvaluationID string `json:"evaluation_id"`
	Message      string `json:"message"`
}

// HealthResult is the settled outcome of one health probe.
type HealthResult struct {
	Body  map[string]any `json:"body,omitempty"`
	Error string         `json:"error,omitempty"`
}

// StatusError reports a non-2xx answer from a backend service.
type StatusError struct {
	Service    Service
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s server returned status %d: %s", e.Service, e.StatusCode, e.Body)
}
