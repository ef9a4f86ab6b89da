package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	// Create は投稿を作成し、マスク済みIDを返す。
	Create(ctx context.Context, ownerID, text string) (masking.MaskedID, error)
	// ListRecent は連番の降順で投稿を返す。beforeが指定された場合はそれより前の投稿のみ。
	ListRecent(ctx context.Context, before *masking.MaskedSequentialID) ([]post.Summary, error)
	// ListTrending はトレンドスコアの降順で投稿を返す。
	ListTrending(ctx context.Context) ([]post.Summary, error)
	// ListHottest は指定日（UTC）に作成された投稿を絶対スコアの降順で返す。
	ListHottest(ctx context.Context, day *time.Time) ([]post.Summary, error)
}

// PostHandler は投稿のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

// createPostRequest は投稿作成リクエストのボディ。
type createPostRequest struct {
	Text string `json:"text"`
}

// createdResponse は作成したコンテンツのマスク済みIDを返すレスポンス。
type createdResponse struct {
	ID masking.MaskedID `json:"id"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID           masking.MaskedID           `json:"id"`
	SequentialID masking.MaskedSequentialID `json:"sequential_id"`
	Text         string                     `json:"text"`
	CreatedAt    string                     `json:"created_at"`
	Votes        votesResponse              `json:"votes"`
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError())
		return
	}

	id, err := h.service.Create(r.Context(), userID, req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// ListPosts は投稿一覧を返す。
// GET /api/posts?sort=recent&before=<masked seq> | sort=trending
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		posts []post.Summary
		err   error
	)
	switch sort := q.Get("sort"); sort {
	case "", "recent":
		var before *masking.MaskedSequentialID
		if raw := q.Get("before"); raw != "" {
			cursor, perr := masking.ParseMaskedSequentialID(raw)
			if perr != nil {
				writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
				return
			}
			before = &cursor
		}
		posts, err = h.service.ListRecent(r.Context(), before)
	case "trending":
		posts, err = h.service.ListTrending(r.Context())
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidSortError(sort))
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// ListHottest は指定日に最も支持された投稿一覧を返す。
// GET /api/posts/hottest?date=<unix ms>（省略時は前日）
func (h *PostHandler) ListHottest(w http.ResponseWriter, r *http.Request) {
	var day *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidDateError("ミリ秒単位のUnix時刻として解釈できません"))
			return
		}
		t := time.UnixMilli(ms).UTC()
		day = &t
	}

	posts, err := h.service.ListHottest(r.Context(), day)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

func toPostResponses(posts []post.Summary) []postResponse {
	result := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		result = append(result, postResponse{
			ID:           p.ID,
			SequentialID: p.SequentialID,
			Text:         p.Text,
			CreatedAt:    formatTime(p.CreatedAt),
			Votes:        toVotesResponse(p.Votes),
		})
	}
	return result
}
