package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/services"
	"sentinal-call/internal/transport/httpdto"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CallHandler struct {
	service *services.CallService
}

func NewCallHandler(service *services.CallService) *CallHandler {
	return &CallHandler{service: service}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", httpdto.CodeUnauthorized))
		return uuid.Nil, false
	}
	return userID, true
}

func callID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", httpdto.CodeInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

// respondCall writes a call, flagging converged duplicates with a code.
func respondCall(c *gin.Context, status int, item call.Call, err error) {
	if errors.Is(err, sentinal_errors.ErrDuplicateEvent) {
		c.JSON(http.StatusOK, httpdto.NewCodedResponse(httpdto.FromCall(item), httpdto.CodeDuplicateEvent))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, httpdto.NewSuccessResponse(httpdto.FromCall(item)))
}

func (h *CallHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", httpdto.CodeInvalidInput))
		return
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid receiver_id", httpdto.CodeInvalidInput))
		return
	}
	item, err := h.service.Initiate(c.Request.Context(), userID, receiverID, call.Type(req.Type))
	respondCall(c, http.StatusCreated, item, err)
}

func (h *CallHandler) GetByID(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := callID(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), id, userID)
	respondCall(c, http.StatusOK, item, err)
}

// Incoming is the receiver's poll path for ringing calls.
func (h *CallHandler) Incoming(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			since = time.Now().Add(-d)
		} else if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			since = t
		} else {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid since", httpdto.CodeInvalidInput))
			return
		}
	}
	item, err := h.service.LatestRinging(c.Request.Context(), userID, since)
	respondCall(c, http.StatusOK, item, err)
}

func (h *CallHandler) CheckBusy(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	target, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user_id", httpdto.CodeInvalidInput))
		return
	}
	busy, err := h.service.CheckBusy(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.BusyStatusResponse{UserID: target.String(), Busy: busy}))
}

func (h *CallHandler) Current(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	item, err := h.service.CurrentCall(c.Request.Context(), userID)
	respondCall(c, http.StatusOK, item, err)
}

func (h *CallHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.ListCallsRequest
	_ = c.ShouldBindQuery(&req)
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}
	items, total, err := h.service.History(c.Request.Context(), userID, req.Page, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListCallsResponse{
		Calls: httpdto.FromCallSlice(items),
		Total: total,
		Page:  req.Page,
		Limit: req.Limit,
	}))
}

func (h *CallHandler) Accept(c *gin.Context) {
	h.transition(c, h.service.Accept)
}

func (h *CallHandler) Reject(c *gin.Context) {
	h.transition(c, h.service.Reject)
}

func (h *CallHandler) Miss(c *gin.Context) {
	h.transition(c, h.service.Miss)
}

func (h *CallHandler) End(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := callID(c)
	if !ok {
		return
	}
	var req httpdto.EndCallRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", httpdto.CodeInvalidInput))
			return
		}
	}
	item, err := h.service.End(c.Request.Context(), id, userID, req.DurationSeconds)
	respondCall(c, http.StatusOK, item, err)
}

type transitionFunc func(ctx context.Context, callID, userID uuid.UUID) (call.Call, error)

func (h *CallHandler) transition(c *gin.Context, fn transitionFunc) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := callID(c)
	if !ok {
		return
	}
	item, err := fn(c.Request.Context(), id, userID)
	respondCall(c, http.StatusOK, item, err)
}

func (h *CallHandler) SendSignal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := callID(c)
	if !ok {
		return
	}
	var sig call.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		respondError(c, sentinal_errors.ErrMalformedSignal)
		return
	}
	relayed, err := h.service.SendSignal(c.Request.Context(), id, userID, sig)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(relayed))
}

func (h *CallHandler) ListSignals(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := callID(c)
	if !ok {
		return
	}
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid after", httpdto.CodeInvalidInput))
			return
		}
		after = v
	}
	signals, err := h.service.ListSignals(c.Request.Context(), id, userID, after)
	if err != nil {
		respondError(c, err)
		return
	}
	next := after
	if len(signals) > 0 {
		next = signals[len(signals)-1].Seq
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListSignalsResponse{Signals: signals, Next: next}))
}
