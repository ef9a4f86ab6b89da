package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/model"
)

// VoteServiceInterface は投票ハンドラーが必要とするサービスインターフェース。
type VoteServiceInterface interface {
	// CastVote はユーザーの票を設定し、コミット後の票数を返す。
	CastVote(ctx context.Context, kind model.ContentKind, maskedID masking.MaskedID, userID string, value int32) (*model.VoteTally, error)
}

// VoteHandler は投稿・コメントへの投票のHTTPハンドラー。
type VoteHandler struct {
	service VoteServiceInterface
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(service VoteServiceInterface) *VoteHandler {
	return &VoteHandler{service: service}
}

// Vote はkind種別のコンテンツに対する投票ハンドラーを返す。
// ボディはJSONの整数 -1、0、1 のいずれか。
// PUT /api/posts/{id}/vote, PUT /api/comments/{id}/vote
func (h *VoteHandler) Vote(kind model.ContentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		maskedID, err := masking.ParseMaskedID(chi.URLParam(r, "id"))
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadMaskedIDError())
			return
		}

		var value int32
		if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError())
			return
		}

		tally, err := h.service.CastVote(r.Context(), kind, maskedID, userID, value)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toVotesResponse(*tally))
	}
}
