package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

// statusMetrics はRecordHTTPStatusの呼び出しを記録するMetricsCollector。
type statusMetrics struct {
	statuses []int
}

func (m *statusMetrics) RecordVote(string, string) {}
func (m *statusMetrics) RecordVoteRetry(string) {}
func (m *statusMetrics) RecordVoteLatency(time.Duration) {}
func (m *statusMetrics) RecordSequenceRetry(string) {}
func (m *statusMetrics) RecordThreadExpanded(int) {}
func (m *statusMetrics) RecordLedgerDrift(string, int) {}
func (m *statusMetrics) RecordLedgerRepaired(string) {}
func (m *statusMetrics) RecordHTTPStatus(code int) {
	m.statuses = append(m.statuses, code)
}

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	entry := decodeEntry(t, &buf)

	// 必須フィールドの検証
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %q, want %q", entry["msg"], "http_request")
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/posts" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/posts")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if duration, ok := entry["duration_ms"].(float64); !ok || duration < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
}

// TestLoggingMiddleware_GeneratesRequestID はリクエストIDを生成してレスポンスとログに付与することを検証する。
func TestLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	requestID := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(requestID); err != nil {
		t.Fatalf("response X-Request-ID %q is not a UUID: %v", requestID, err)
	}
	if entry := decodeEntry(t, &buf); entry["request_id"] != requestID {
		t.Errorf("request_id = %v, want %q", entry["request_id"], requestID)
	}
}

// TestLoggingMiddleware_PropagatesRequestID は受け取ったリクエストIDを引き継ぐことを検証する。
func TestLoggingMiddleware_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set(RequestIDHeader, "gateway-req-1")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "gateway-req-1" {
		t.Errorf("X-Request-ID = %q, want %q", got, "gateway-req-1")
	}
	if entry := decodeEntry(t, &buf); entry["request_id"] != "gateway-req-1" {
		t.Errorf("request_id = %v, want gateway-req-1", entry["request_id"])
	}
}

// TestLoggingMiddleware_IncludesUserID はユーザーIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUserID(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(okHandler())

	serveAs(handler, http.MethodPost, "/api/posts", "user-123")

	if entry := decodeEntry(t, &buf); entry["user_id"] != "user-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "user-123")
	}
}

// TestLoggingMiddleware_NoUserID_OmitsField はユーザーIDがない場合にフィールドが出力されないことを検証する。
func TestLoggingMiddleware_NoUserID_OmitsField(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(okHandler())

	serveAs(handler, http.MethodGet, "/api/posts", "")

	if val, ok := decodeEntry(t, &buf)["user_id"]; ok {
		t.Errorf("user_id should be omitted for anonymous request, got %q", val)
	}
}

// TestLoggingMiddleware_CapturesStatusCode はステータスコードとログレベルが正しく記録されることを検証する。
func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLevel  string
	}{
		{"200 OK", http.StatusOK, "INFO"},
		{"201 Created", http.StatusCreated, "INFO"},
		{"400 Bad Request", http.StatusBadRequest, "WARN"},
		{"429 Too Many Requests", http.StatusTooManyRequests, "WARN"},
		{"500 Internal Server Error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mc := &statusMetrics{}

			handler := NewLoggingMiddleware(newBufferLogger(&buf), mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			entry := decodeEntry(t, &buf)
			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %q, want %q", entry["level"], tt.wantLevel)
			}
			if len(mc.statuses) != 1 || mc.statuses[0] != tt.statusCode {
				t.Errorf("recorded statuses = %v, want [%d]", mc.statuses, tt.statusCode)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はレスポンスボディ書き込み後もステータスが記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newBufferLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WriteHeaderを呼ばずにWriteすると暗黙的に200が設定される
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if status := int(decodeEntry(t, &buf)["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}
