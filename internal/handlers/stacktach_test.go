package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/filtering"
	"usagerelay/internal/logger"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/models"
)

// seedResults is a stage that fills a result slot before the stacktach handler runs.
type seedResults struct {
	pipeline.Base
	slot    string
	results pipeline.Results
}

func (s *seedResults) Handle(_ context.Context, _ []*models.Message, env *pipeline.Env) {
	for id, r := range s.results {
		env.Record(s.slot, id, r)
	}
}

func runWithResults(h pipeline.Handler, slot string, results pipeline.Results, msgs ...*models.Message) {
	seed := &seedResults{Base: pipeline.NewBase("seed", filtering.Spec{}, false, logger.NopLogger()), slot: slot, results: results}
	p := pipeline.New("monitor.info", []pipeline.Handler{seed, h}, nil, logger.NopLogger())
	p.Invoke(context.Background(), msgs)
}

func TestStackTachPingsResults(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	cfg := testConfig()
	cfg.StackTach.URL = srv.URL + "/db/confirm/usage/exists/batch"

	h, err := NewStackTach(testDeps(cfg))
	require.NoError(t, err)

	withOriginal := message("m-2", "compute.instance.exists.verified.old", nil)
	withOriginal.Body["original_message_id"] = "orig-2"

	runWithResults(h, pipeline.AtomPubResults, pipeline.Results{
		"m-1": {Code: 201, Message: "Success", Service: "nova", AHEventID: "ah-1"},
		"m-2": {Code: 409, Message: "Success", Service: "nova"},
		"m-3": {Code: 201, Message: "Success", Service: "nova", AHEventID: "ah-3"},
	},
		message("m-1", "compute.instance.exists.verified.old", nil),
		withOriginal,
		message("m-3", "compute.instance.create.end", nil),
	)

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/db/confirm/usage/exists/batch", reqs[0].Path)
	assert.JSONEq(t, `{
		"messages": {
			"nova": {
				"m-1": {"status": 201, "event_id": "ah-1"},
				"orig-2": {"status": 409}
			}
		},
		"version": 2
	}`, reqs[0].Body)
}

func TestStackTachWildcardAndMissingService(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	cfg := testConfig()
	cfg.StackTach.URL = srv.URL
	cfg.StackTach.PingEvents = "*"

	h, err := NewStackTach(testDeps(cfg))
	require.NoError(t, err)

	runWithResults(h, pipeline.AtomPubResults, pipeline.Results{
		"m-1": {Code: 503, Message: "Exceeded retry limit. Error down"},
	}, message("m-1", "anything", nil))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"messages":{"nova":{"m-1":{"status":503}}},"version":2}`, reqs[0].Body)
}

func TestStackTachWithoutResultsDoesNotPing(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	cfg := testConfig()
	cfg.StackTach.URL = srv.URL

	h, err := NewStackTach(testDeps(cfg))
	require.NoError(t, err)

	runWithResults(h, pipeline.CufPubResults, pipeline.Results{
		"m-1": {Code: 201, Service: "nova"},
	}, message("m-1", "compute.instance.exists.verified.old", nil))

	assert.Empty(t, srv.captured())
}

func TestStackTachNoMatchesDoesNotPing(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, "")
	cfg := testConfig()
	cfg.StackTach.URL = srv.URL

	h, err := NewStackTach(testDeps(cfg))
	require.NoError(t, err)

	runWithResults(h, pipeline.AtomPubResults, pipeline.Results{
		"m-1": {Code: 201, Service: "nova"},
	}, message("m-1", "compute.instance.create.end", nil))

	assert.Empty(t, srv.captured())
}
