package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chandlerchaos/plebeian-market/internal/auction"
	"github.com/chandlerchaos/plebeian-market/internal/middleware"
	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// AuctionServiceInterface はオークションハンドラーが必要とするサービスインターフェース。
type AuctionServiceInterface interface {
	Create(ctx context.Context, sellerKey string, input auction.CreateInput) (*model.Auction, error)
	Activate(ctx context.Context, key, sellerKey string) (*model.Auction, error)
	PlaceBid(ctx context.Context, key, buyerKey string, amount int64) (*auction.BidResult, error)
	View(ctx context.Context, key, viewerKey string) (*auction.ViewResult, error)
	Edit(ctx context.Context, key, actorKey string, input auction.EditInput) (*model.Auction, error)
	Remove(ctx context.Context, key, actorKey string) error
	Follow(ctx context.Context, userKey, key string, enabled bool) error
	ListFeatured(ctx context.Context) ([]*model.Auction, error)
	ListBySeller(ctx context.Context, sellerKey string) ([]*model.Auction, error)
}

// AuctionHandler はオークションのHTTPハンドラー。
type AuctionHandler struct {
	service AuctionServiceInterface
}

// NewAuctionHandler はAuctionHandlerを生成する。
func NewAuctionHandler(service AuctionServiceInterface) *AuctionHandler {
	return &AuctionHandler{service: service}
}

// auctionResponse はオークションのAPIレスポンス。
type auctionResponse struct {
	Key           string     `json:"key"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	StartingBid   int64      `json:"starting_bid"`
	ReserveBid    int64      `json:"reserve_bid"`
	DurationHours int        `json:"duration_hours"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	IsFeatured    *bool      `json:"is_featured"`

	HasWinner                  bool       `json:"has_winner"`
	ContributionAmount         *int64     `json:"contribution_amount,omitempty"`
	ContributionPaymentRequest string     `json:"contribution_payment_request,omitempty"`
	ContributionRequestedAt    *time.Time `json:"contribution_requested_at,omitempty"`
	ContributionSettledAt      *time.Time `json:"contribution_settled_at,omitempty"`
}

// bidResponse は入札のAPIレスポンス。
type bidResponse struct {
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// mediaResponse はオークション画像のAPIレスポンス。
type mediaResponse struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// auctionViewResponse はオークション詳細のAPIレスポンス。
type auctionViewResponse struct {
	auctionResponse
	Bids      []bidResponse   `json:"bids"`
	Media     []mediaResponse `json:"media"`
	Following bool            `json:"following"`
}

// createAuctionRequest はオークション作成リクエストのボディ。
type createAuctionRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	DurationHours int    `json:"duration_hours"`
	StartingBid   int64  `json:"starting_bid"`
	ReserveBid    int64  `json:"reserve_bid"`
}

// editAuctionRequest はオークション編集リクエストのボディ。
// is_featuredは明示的なnullがオート状態への復帰を表すため、
// フィールドの有無と値を区別してデコードする必要がある。
type editAuctionRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	DurationHours *int    `json:"duration_hours"`
	StartingBid   *int64  `json:"starting_bid"`
	ReserveBid    *int64  `json:"reserve_bid"`

	featured *model.FeaturedState
}

// placeBidRequest は入札リクエストのボディ。
type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// placeBidResponse は入札受理のAPIレスポンス。
type placeBidResponse struct {
	PaymentRequest string `json:"payment_request"`
	QRCode         string `json:"qr"`
}

// followRequest はフォロー状態変更リクエストのボディ。
type followRequest struct {
	Follow bool `json:"follow"`
}

// List は自分が出品したオークションの一覧を返す。
// GET /api/auctions
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	auctions, err := h.service.ListBySeller(r.Context(), userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponses(auctions))
}

// Create は新しいオークションを下書きとして作成する。
// POST /api/auctions
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createAuctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), userKey, auction.CreateInput{
		Title:         req.Title,
		Description:   req.Description,
		DurationHours: req.DurationHours,
		StartingBid:   req.StartingBid,
		ReserveBid:    req.ReserveBid,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuctionResponse(created))
}

// Featured はおすすめ掲載オークションの一覧を返す。認証不要。
// GET /api/auctions/featured
func (h *AuctionHandler) Featured(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.service.ListFeatured(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponses(auctions))
}

// Get はオークション詳細を返す。認証は任意で、
// 認証済みの場合はフォロー状態がレスポンスに反映される。
// GET /api/auctions/{key}
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	// 未認証の閲覧者は空のキーとして扱う
	viewerKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		viewerKey = ""
	}

	view, err := h.service.View(r.Context(), key, viewerKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := auctionViewResponse{
		auctionResponse: toAuctionResponse(view.Auction),
		Bids:            make([]bidResponse, 0, len(view.Bids)),
		Media:           make([]mediaResponse, 0, len(view.Media)),
		Following:       view.Following,
	}
	for _, b := range view.Bids {
		resp.Bids = append(resp.Bids, bidResponse{Amount: b.Amount, CreatedAt: b.CreatedAt})
	}
	for _, m := range view.Media {
		resp.Media = append(resp.Media, mediaResponse{URL: m.URL, Position: m.Position})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Update はオークションを編集する。
// PUT /api/auctions/{key}
func (h *AuctionHandler) Update(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	key := chi.URLParam(r, "key")

	req, ok := decodeEditAuctionRequest(w, r)
	if !ok {
		return
	}

	updated, err := h.service.Edit(r.Context(), key, userKey, auction.EditInput{
		Title:         req.Title,
		Description:   req.Description,
		DurationHours: req.DurationHours,
		StartingBid:   req.StartingBid,
		ReserveBid:    req.ReserveBid,
		Featured:      req.featured,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(updated))
}

// Delete はオークションを削除する。
// DELETE /api/auctions/{key}
func (h *AuctionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	key := chi.URLParam(r, "key")

	if err := h.service.Remove(r.Context(), key, userKey); err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Follow はオークションのフォロー状態を設定する。
// PUT /api/auctions/{key}/follow
func (h *AuctionHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	key := chi.URLParam(r, "key")

	var req followRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Follow(r.Context(), userKey, key, req.Follow); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"follow": req.Follow})
}

// StartTwitter は告知ツイートを確認してオークションを開始する。
// PUT /api/auctions/{key}/start-twitter
func (h *AuctionHandler) StartTwitter(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	key := chi.URLParam(r, "key")

	activated, err := h.service.Activate(r.Context(), key, userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(activated))
}

// PlaceBid は入札を受け付け、デポジットインボイスを返す。
// POST /api/auctions/{key}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	key := chi.URLParam(r, "key")

	var req placeBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.PlaceBid(r.Context(), key, userKey, req.Amount)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, placeBidResponse{
		PaymentRequest: result.PaymentRequest,
		QRCode:         result.QRCode,
	})
}

// decodeEditAuctionRequest は編集リクエストをデコードする。
// is_featuredはキーの有無を見る必要があるため、いったん生のJSONに展開してから
// 構造体にデコードし直す。
func decodeEditAuctionRequest(w http.ResponseWriter, r *http.Request) (editAuctionRequest, bool) {
	var req editAuctionRequest

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("body", "リクエストボディが不正です"))
		return req, false
	}

	decode := func(field string, dst any) bool {
		v, ok := raw[field]
		if !ok {
			return true
		}
		if err := json.Unmarshal(v, dst); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(field, "値の形式が不正です"))
			return false
		}
		return true
	}

	if !decode("title", &req.Title) ||
		!decode("description", &req.Description) ||
		!decode("duration_hours", &req.DurationHours) ||
		!decode("starting_bid", &req.StartingBid) ||
		!decode("reserve_bid", &req.ReserveBid) {
		return req, false
	}

	if v, ok := raw["is_featured"]; ok {
		// 明示的なnullはモデレーター未設定（オート）への復帰を表す
		var b *bool
		if err := json.Unmarshal(v, &b); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("is_featured", "値の形式が不正です"))
			return req, false
		}
		state := model.FeaturedStateFromBoolPtr(b)
		req.featured = &state
	}

	return req, true
}

// toAuctionResponse はmodel.AuctionからAPIレスポンスに変換する。
func toAuctionResponse(a *model.Auction) auctionResponse {
	return auctionResponse{
		Key:                        a.Key,
		Title:                      a.Title,
		Description:                a.Description,
		StartingBid:                a.StartingBid,
		ReserveBid:                 a.ReserveBid,
		DurationHours:              a.DurationHours,
		StartDate:                  a.StartDate,
		EndDate:                    a.EndDate,
		IsFeatured:                 a.Featured.BoolPtr(),
		HasWinner:                  a.WinningBidID != "",
		ContributionAmount:         a.ContributionAmount,
		ContributionPaymentRequest: a.ContributionPaymentRequest,
		ContributionRequestedAt:    a.ContributionRequestedAt,
		ContributionSettledAt:      a.ContributionSettledAt,
	}
}

func toAuctionResponses(auctions []*model.Auction) []auctionResponse {
	responses := make([]auctionResponse, 0, len(auctions))
	for _, a := range auctions {
		responses = append(responses, toAuctionResponse(a))
	}
	return responses
}
