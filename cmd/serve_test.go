package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newServerStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(t.Context()))
	return st
}

func TestRouter_Health(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServerStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ProposalsEmptyList(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServerStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/proposals")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var proposals []model.Proposal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proposals))
	assert.Empty(t, proposals)
}

func TestRouter_ProposalsListAndShow(t *testing.T) {
	st := newServerStore(t)
	p := &model.Proposal{
		ID:      "web-1",
		Kind:    model.ProposalKindRecordUpdate,
		Agent:   "web-crawler",
		Changes: map[string]any{"name": "Lakefront Marathon"},
	}
	require.NoError(t, st.CreateProposal(t.Context(), p))

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/proposals?status=pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	var proposals []model.Proposal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proposals))
	require.Len(t, proposals, 1)
	assert.Equal(t, "web-1", proposals[0].ID)

	resp, err = http.Get(srv.URL + "/proposals/web-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/proposals/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Stats(t *testing.T) {
	st := newServerStore(t)
	require.NoError(t, st.IncrementRunStats(t.Context(), "validator.auto", model.RunReport{Analyzed: 3, Validated: 2}))

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		Pending int `json:"pending"`
		Runs    []struct {
			Runner   string `json:"runner"`
			Analyzed int64  `json:"analyzed"`
		} `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Runs, 1)
	assert.Equal(t, int64(3), snap.Runs[0].Analyzed)
}
