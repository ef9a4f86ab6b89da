package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusboard/internal/comment"
	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	// Create はコメントを作成し、マスク済みIDを返す。
	Create(ctx context.Context, ownerID string, in comment.CreateInput) (masking.MaskedID, error)
	// Delete は作成者本人のコメントを論理削除する。
	Delete(ctx context.Context, ownerID string, masked masking.MaskedID) error
	// ListRoot は投稿直下のコメントツリーを返す。
	ListRoot(ctx context.Context, parentPost masking.MaskedID, seen []masking.MaskedID) ([]comment.View, error)
	// ListThread はコメント配下の返信ツリーを返す。
	ListThread(ctx context.Context, parentComment masking.MaskedID, seen []masking.MaskedID) ([]comment.View, error)
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

// createCommentRequest はコメント作成リクエストのボディ。
// parent_comments はルートから直接の親までの祖先コメントIDの列。
type createCommentRequest struct {
	Text           string             `json:"text"`
	ParentPost     masking.MaskedID   `json:"parent_post"`
	ParentComments []masking.MaskedID `json:"parent_comments"`
}

// commentResponse はコメントのAPIレスポンス。子コメントを入れ子で含む。
type commentResponse struct {
	ID             masking.MaskedID   `json:"id"`
	ParentPost     masking.MaskedID   `json:"parent_post"`
	ParentComments []masking.MaskedID `json:"parent_comments"`
	Text           string             `json:"text"`
	Replies        int32              `json:"replies"`
	Votes          votesResponse      `json:"votes"`
	CreatedAt      string             `json:"created_at"`
	Children       []commentResponse  `json:"children"`
}

// CreateComment はコメントを作成する。
// POST /api/comments
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// IDのトークンが復号できない場合はボディ全体ではなくIDの誤りとして返す
		if masking.IsPaddingError(err) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError())
		return
	}

	id, err := h.service.Create(r.Context(), userID, comment.CreateInput{
		Text:           req.Text,
		ParentPost:     req.ParentPost,
		ParentComments: req.ParentComments,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// DeleteComment はコメントを論理削除する。
// DELETE /api/comments/{id}
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	maskedID, err := masking.ParseMaskedID(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, maskedID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListComments はコメントツリーを返す。
// GET /api/comments?kind=root&parent_post=..&seen=.. | kind=thread&parent_comment=..&seen=..
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	seen, err := parseMaskedIDs(q["seen"])
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
		return
	}

	var (
		parentParam string
		list        func(context.Context, masking.MaskedID, []masking.MaskedID) ([]comment.View, error)
	)
	switch kind := q.Get("kind"); kind {
	case "root":
		parentParam, list = "parent_post", h.service.ListRoot
	case "thread":
		parentParam, list = "parent_comment", h.service.ListThread
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidListKindError(kind))
		return
	}

	parent, err := masking.ParseMaskedID(q.Get(parentParam))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
		return
	}

	views, err := list(r.Context(), parent, seen)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCommentResponses(views))
}

// parseMaskedIDs はクエリパラメータのIDを解析する。
// 繰り返し指定とカンマ区切りの両方を受け付ける。
func parseMaskedIDs(values []string) ([]masking.MaskedID, error) {
	var ids []masking.MaskedID
	for _, v := range values {
		for _, token := range strings.Split(v, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			id, err := masking.ParseMaskedID(token)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func toCommentResponses(views []comment.View) []commentResponse {
	result := make([]commentResponse, 0, len(views))
	for _, v := range views {
		parents := v.ParentComments
		if parents == nil {
			parents = []masking.MaskedID{}
		}
		result = append(result, commentResponse{
			ID:             v.ID,
			ParentPost:     v.ParentPost,
			ParentComments: parents,
			Text:           v.Text,
			Replies:        v.Replies,
			Votes:          toVotesResponse(v.Votes),
			CreatedAt:      formatTime(v.CreatedAt),
			Children:       toCommentResponses(v.Children),
		})
	}
	return result
}
