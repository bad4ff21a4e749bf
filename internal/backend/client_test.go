package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_DecodesCollectionResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, evaluatePath, r.URL.Path)
		var req EvaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "photosynthesis", req.Query)
		assert.Equal(t, "ada@example.com", req.UserEmail)

		w.Write([]byte(`{
			"total_collections": 2,
			"collection_names": ["bio_papers", "chem_papers"],
			"collection_results": {
				"bio_papers": {"results": [
					{"metadata": {"content": "Plants convert light.", "citation": "Smith 2020"}},
					{"metadata": {"content": ""}},
					{}
				]},
				"chem_papers": {"error": "index missing"}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{DatabaseURL: srv.URL})
	resp, err := c.Evaluate(context.Background(), EvaluateRequest{Query: "photosynthesis", UserEmail: "ada@example.com"})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Total())
	assert.Equal(t, []string{"Plants convert light.\nSource: Smith 2020"}, resp.CollectionResults["bio_papers"].Snippets())
	assert.Equal(t, "index missing", resp.CollectionResults["chem_papers"].Error)
}

func TestEvaluate_Non2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{DatabaseURL: srv.URL})
	_, err := c.Evaluate(context.Background(), EvaluateRequest{Query: "q"})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, Database, statusErr.Service)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestEvaluate_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{DatabaseURL: url, Timeout: time.Second})
	_, err := c.Evaluate(context.Background(), EvaluateRequest{Query: "q"})
	require.Error(t, err)

	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestTotal_FallsBackToResultCount(t *testing.T) {
	resp := &EvaluateResponse{CollectionResults: map[string]CollectionResult{"a": {}, "b": {}}}
	assert.Equal(t, 2, resp.Total())

	zero := 0
	resp.TotalCollections = &zero
	assert.Equal(t, 0, resp.Total())
}

func TestStoreEvaluation(t *testing.T) {
	var got EvaluationRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, storeEvaluationPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success": true, "evaluation_id": "ev-1", "message": "stored"}`))
	}))
	defer srv.Close()

	score := 9
	c := NewClient(Config{DatabaseURL: srv.URL})
	resp, err := c.StoreEvaluation(context.Background(), EvaluationRecord{
		UserEmail:        "ada@example.com",
		Mode:             "scoring",
		Options:          []EvaluationOption{{ID: "b", Content: "x", Score: &score}},
		SelectedOptionID: "b",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ev-1", resp.EvaluationID)
	assert.Equal(t, "b", got.SelectedOptionID)
	require.NotNil(t, got.Options[0].Score)
	assert.Equal(t, 9, *got.Options[0].Score)
	assert.Nil(t, got.Options[0].Rank)
}

func TestValidateEmail_LowercasesAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		w.Write([]byte(`{"isValid": true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{LightURL: srv.URL})
	ok, err := c.ValidateEmail(context.Background(), "Ada@Example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckAllHealth_SettlesEveryService(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	c := NewClient(Config{LightURL: healthy.URL, HeavyURL: broken.URL, DatabaseURL: healthy.URL})
	results := c.CheckAllHealth(context.Background())

	require.Len(t, results, 3)
	assert.Equal(t, "ok", results[Light].Body["status"])
	assert.Equal(t, "ok", results[Database].Body["status"])
	assert.NotEmpty(t, results[Heavy].Error)
	assert.Nil(t, results[Heavy].Body)
}

func TestForward_MissingBaseURL(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Forward(context.Background(), Heavy, http.MethodGet, "/health", nil, nil, "")
	assert.Error(t, err)
}
