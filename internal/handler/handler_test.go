package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/middleware"
)

// --- テストヘルパー ---

const testUserID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// testMaskedID はb で埋めたテスト用のマスク済みIDを返す。
func testMaskedID(b byte) masking.MaskedID {
	var m masking.MaskedID
	for i := range m {
		m[i] = b
	}
	return m
}

func testMaskedSequentialID(b byte) masking.MaskedSequentialID {
	var m masking.MaskedSequentialID
	for i := range m {
		m[i] = b
	}
	return m
}
