//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/grid"
	"github.com/gridwise/sheetctx/internal/store"
)

func serveTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	wb := grid.NewWorkbook("book")
	require.NoError(t, wb.AddSheet("sheet1", "Revenue", [][]string{
		{"Region", "Amount"},
		{"West", "1200"},
		{"East", "900"},
	}))

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "builds.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reader := grid.NewGatedReader(wb, wb, grid.Policy{})
	builder, err := contextbuild.New(contextbuild.Deps{
		Store:     wb,
		Reader:    reader,
		Resolver:  wb,
		Telemetry: st.Hook(),
	}, contextbuild.Options{})
	require.NoError(t, err)

	srv := newContextServer(&builderEnv{Workbook: wb, Builder: builder, Store: st})

	r := chi.NewRouter()
	r.Post("/v1/context", srv.handleBuild)
	r.Get("/v1/builds", srv.handleListBuilds)
	r.Get("/v1/builds/{id}", srv.handleGetBuild)
	return r
}

func TestHandleBuild(t *testing.T) {
	r := serveTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader(`{"sheet":"Revenue","selection":"A1:B2"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Payload contextbuild.ContextPayload `json:"payload"`
		Prompt  string                      `json:"prompt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "book", resp.Payload.WorkbookID)
	assert.Equal(t, "sheet1", resp.Payload.ActiveSheetID)
	assert.Contains(t, resp.Prompt, "Region")
}

func TestHandleBuildBadBody(t *testing.T) {
	r := serveTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBuildUnknownSheet(t *testing.T) {
	r := serveTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader(`{"sheet":"Expenses"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListBuildsAfterBuild(t *testing.T) {
	r := serveTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/builds", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var builds []store.BuildRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &builds))
	require.Len(t, builds, 1)
	assert.Equal(t, "book", builds[0].WorkbookID)
}

func TestHandleGetBuildNotFound(t *testing.T) {
	r := serveTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/builds/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
