package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"TrackDeal/core/auth"
	"TrackDeal/core/deal"
	"TrackDeal/logger"
	"TrackDeal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const maxBodyBytes = 1 << 20

// DealHandler exposes the deal engine over HTTP.
type DealHandler struct {
	engine   *deal.Engine
	resolver auth.Resolver
	hub      *EventHub
	upgrader websocket.Upgrader
}

// NewDealHandler 创建交易处理器
func NewDealHandler(engine *deal.Engine, resolver auth.Resolver, hub *EventHub, allowedOrigins []string) *DealHandler {
	return &DealHandler{
		engine:   engine,
		resolver: resolver,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func badRequest(format string, err error) error {
	return &deal.Error{Kind: deal.KindValidation, Message: format, Err: err}
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &deal.Error{Kind: deal.KindValidation, Message: name + " must be a positive integer"}
	}
	return id, nil
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, &deal.Error{Kind: deal.KindValidation, Message: name + " must be a non-negative integer"}
	}
	return v, nil
}

// decodeBody accepts an empty body for actions that carry no payload.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body", err)
	}
	return nil
}

type buildFunc func(r *http.Request, id int64) (deal.Request, error)

// guardFunc names the action a route performs for a caller, so the tier
// check runs before the body is read.
type guardFunc func(c auth.Caller) auth.Action

func is(a auth.Action) guardFunc {
	return func(auth.Caller) auth.Action { return a }
}

// signAs mirrors the signer role signContract defaults to.
func signAs(c auth.Caller) auth.Action {
	if c.Tier() == auth.TierProducer {
		return auth.ActionSignAsProducer
	}
	return auth.ActionSignAsAdmin
}

// action authorizes, decodes, validates and dispatches one engine action.
// The path id, when the route has one, overrides any id in the body.
func (h *DealHandler) action(status int, guard guardFunc, build buildFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeErrorBody(w, http.StatusUnauthorized, "Unauthorized", "missing caller")
			return
		}
		if err := h.engine.Authorize(caller, guard(caller)); err != nil {
			writeError(w, r, err)
			return
		}
		var id int64
		if _, has := mux.Vars(r)["id"]; has {
			var err error
			if id, err = pathInt(r, "id"); err != nil {
				writeError(w, r, err)
				return
			}
		}
		req, err := build(r, id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		res, err := h.engine.Dispatch(r.Context(), caller, req)
		if err != nil {
			if deal.IsKind(err, deal.KindContractGenerationFail) {
				// the acceptance itself committed
				writeJSON(w, http.StatusAccepted, map[string]interface{}{
					"result": res,
					"error":  errorBody{Kind: string(deal.KindContractGenerationFail), Message: err.Error()},
				})
				return
			}
			writeError(w, r, err)
			return
		}
		logger.Info("[Deal] action applied",
			logger.String("action", string(req.Action())),
			logger.Int64("user", caller.UserID),
			logger.String("tier", string(caller.Tier())))
		writeJSON(w, status, res)
	}
}

type readFunc func(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error)

func (h *DealHandler) read(fn readFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeErrorBody(w, http.StatusUnauthorized, "Unauthorized", "missing caller")
			return
		}
		res, err := fn(r.Context(), caller, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ========== actions ==========

func submitTrack(r *http.Request, _ int64) (deal.Request, error) {
	var req deal.SubmitTrackRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func reviewTrack(_ *http.Request, id int64) (deal.Request, error) {
	return deal.ReviewTrackRequest{TrackID: id}, nil
}

func denyTrack(r *http.Request, id int64) (deal.Request, error) {
	var req deal.DenyTrackRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.TrackID = id
	return req, nil
}

func reopenTrack(_ *http.Request, id int64) (deal.Request, error) {
	return deal.ReopenTrackRequest{TrackID: id}, nil
}

func createOffer(r *http.Request, id int64) (deal.Request, error) {
	var req deal.CreateOfferRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.TrackID = id
	return req, nil
}

func sendOffer(_ *http.Request, id int64) (deal.Request, error) {
	return deal.SendOfferRequest{OfferID: id}, nil
}

func counterOffer(r *http.Request, id int64) (deal.Request, error) {
	var req deal.CounterOfferRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.OfferID = id
	return req, nil
}

func reviseOffer(r *http.Request, id int64) (deal.Request, error) {
	var req deal.ReviseOfferRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.OfferID = id
	return req, nil
}

func acceptOffer(_ *http.Request, id int64) (deal.Request, error) {
	return deal.AcceptOfferRequest{OfferID: id}, nil
}

func rejectOffer(_ *http.Request, id int64) (deal.Request, error) {
	return deal.RejectOfferRequest{OfferID: id}, nil
}

func acceptCounter(_ *http.Request, id int64) (deal.Request, error) {
	return deal.AcceptCounterRequest{OfferID: id}, nil
}

func rejectCounter(_ *http.Request, id int64) (deal.Request, error) {
	return deal.RejectCounterRequest{OfferID: id}, nil
}

func generateContract(_ *http.Request, id int64) (deal.Request, error) {
	return deal.GenerateContractRequest{OfferID: id}, nil
}

func sendContract(_ *http.Request, id int64) (deal.Request, error) {
	return deal.SendContractRequest{ContractID: id}, nil
}

// signContract defaults the signing role from the caller's tier when the
// body does not name one.
func signContract(r *http.Request, id int64) (deal.Request, error) {
	var req deal.SignContractRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.ContractID = id
	if req.As == "" {
		req.As = model.SignerAdmin
		if c, ok := CallerFromContext(r.Context()); ok && signAs(c) == auth.ActionSignAsProducer {
			req.As = model.SignerProducer
		}
	}
	req.Meta = deal.SignMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	return req, nil
}

func archiveContract(_ *http.Request, id int64) (deal.Request, error) {
	return deal.ArchiveContractRequest{ContractID: id}, nil
}

func forceState(r *http.Request, _ int64) (deal.Request, error) {
	var req deal.ForceStateRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// ========== reads ==========

func (h *DealHandler) getTrack(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.GetTrack(ctx, c, id)
}

func (h *DealHandler) listTracks(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	producerID, err := queryInt(r, "producerId")
	if err != nil {
		return nil, err
	}
	return h.engine.ListTracks(ctx, c, producerID)
}

func (h *DealHandler) listOffers(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.ListOffers(ctx, c, id)
}

func (h *DealHandler) getOffer(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.GetOffer(ctx, c, id)
}

func (h *DealHandler) listContracts(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	producerID, err := queryInt(r, "producerId")
	if err != nil {
		return nil, err
	}
	return h.engine.ListContracts(ctx, c, producerID)
}

func (h *DealHandler) getContract(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.GetContract(ctx, c, id)
}

func (h *DealHandler) listSignatures(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.ListSignatures(ctx, c, id)
}

func (h *DealHandler) downloadContract(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.DownloadURL(ctx, c, id)
}

func (h *DealHandler) verifyContract(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.VerifyContract(ctx, c, id)
}

func (h *DealHandler) history(ctx context.Context, c auth.Caller, r *http.Request) (interface{}, error) {
	entity := strings.ToLower(mux.Vars(r)["entity"])
	id, err := pathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.engine.History(ctx, c, model.EntityType(entity), id)
}

// ========== WebSocket ==========

// EventsWebSocketHandler streams deal events to admin-tier subscribers.
// Browsers cannot set headers on the upgrade, so the token may come in the
// query string.
func (h *DealHandler) EventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if !h.upgrader.CheckOrigin(r) {
		writeErrorBody(w, http.StatusForbidden, string(deal.KindForbidden), "origin not allowed")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		writeErrorBody(w, http.StatusUnauthorized, "Unauthorized", "token is required")
		return
	}
	caller, err := h.resolver.Resolve(token)
	if err != nil {
		writeErrorBody(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
		return
	}
	if !caller.IsAdminTier() {
		writeErrorBody(w, http.StatusForbidden, string(deal.KindForbidden), "only admin tiers can subscribe to deal events")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}
	client := &eventClient{hub: h.hub, conn: conn, send: make(chan []byte, sendBuffer), userID: caller.UserID}
	if !h.hub.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	logger.Info("deal event subscriber connected",
		logger.Int64("userId", caller.UserID),
		logger.String("tier", string(caller.Tier())))
}

// RegisterDealRoutes 注册交易相关路由
func RegisterDealRoutes(router *mux.Router, h *DealHandler, authMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	post := func(path string, status int, guard guardFunc, build buildFunc) {
		router.HandleFunc(path, authMiddleware(h.action(status, guard, build))).Methods(http.MethodPost)
	}
	get := func(path string, fn readFunc) {
		router.HandleFunc(path, authMiddleware(h.read(fn))).Methods(http.MethodGet)
	}

	// 曲目审核
	post("/api/tracks", http.StatusCreated, is(auth.ActionSubmitTrack), submitTrack)
	post("/api/tracks/{id:[0-9]+}/review", http.StatusOK, is(auth.ActionReviewTrack), reviewTrack)
	post("/api/tracks/{id:[0-9]+}/deny", http.StatusOK, is(auth.ActionDenyTrack), denyTrack)
	post("/api/tracks/{id:[0-9]+}/reopen", http.StatusOK, is(auth.ActionReopenTrack), reopenTrack)
	get("/api/tracks", h.listTracks)
	get("/api/tracks/{id:[0-9]+}", h.getTrack)

	// 报价
	post("/api/tracks/{id:[0-9]+}/offers", http.StatusCreated, is(auth.ActionCreateOffer), createOffer)
	get("/api/tracks/{id:[0-9]+}/offers", h.listOffers)
	get("/api/offers/{id:[0-9]+}", h.getOffer)
	post("/api/offers/{id:[0-9]+}/send", http.StatusOK, is(auth.ActionSendOffer), sendOffer)
	post("/api/offers/{id:[0-9]+}/counter", http.StatusOK, is(auth.ActionCounterOffer), counterOffer)
	post("/api/offers/{id:[0-9]+}/revise", http.StatusCreated, is(auth.ActionReviseOffer), reviseOffer)
	post("/api/offers/{id:[0-9]+}/accept", http.StatusOK, is(auth.ActionAcceptOffer), acceptOffer)
	post("/api/offers/{id:[0-9]+}/reject", http.StatusOK, is(auth.ActionRejectOffer), rejectOffer)
	post("/api/offers/{id:[0-9]+}/accept-counter", http.StatusOK, is(auth.ActionAcceptCounter), acceptCounter)
	post("/api/offers/{id:[0-9]+}/reject-counter", http.StatusOK, is(auth.ActionRejectCounter), rejectCounter)
	post("/api/offers/{id:[0-9]+}/contract", http.StatusCreated, is(auth.ActionGenerateContract), generateContract)

	// 合同
	get("/api/contracts", h.listContracts)
	get("/api/contracts/{id:[0-9]+}", h.getContract)
	get("/api/contracts/{id:[0-9]+}/signatures", h.listSignatures)
	get("/api/contracts/{id:[0-9]+}/download", h.downloadContract)
	get("/api/contracts/{id:[0-9]+}/verify", h.verifyContract)
	post("/api/contracts/{id:[0-9]+}/send", http.StatusOK, is(auth.ActionSendContract), sendContract)
	post("/api/contracts/{id:[0-9]+}/sign", http.StatusOK, signAs, signContract)
	post("/api/contracts/{id:[0-9]+}/archive", http.StatusOK, is(auth.ActionArchiveContract), archiveContract)

	// 管理与审计
	post("/api/admin/force-state", http.StatusOK, is(auth.ActionForceState), forceState)
	get("/api/history/{entity}/{id:[0-9]+}", h.history)

	router.HandleFunc("/ws/deals", h.EventsWebSocketHandler)

	logger.Info("交易API端点注册完成",
		logger.String("endpoints", "/api/tracks, /api/offers, /api/contracts, /api/admin/force-state, /api/history, WS /ws/deals"))
}
