package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/helpers"
	"github.com/mohammad-safakhou/orderdesk/internal/knowledge"
	"github.com/mohammad-safakhou/orderdesk/internal/orchestrator"
	"github.com/mohammad-safakhou/orderdesk/internal/runtime"
)

const minQueryLength = 3

// ConversationsHandler exposes the conversation engine over HTTP.
type ConversationsHandler struct {
	Engine    *orchestrator.Engine
	Knowledge *knowledge.Base
	// TrustBodyIdentity lets unauthenticated callers name themselves with
	// user_identity. A bearer token always wins.
	TrustBodyIdentity bool
}

func (h *ConversationsHandler) Register(g *echo.Group) {
	g.POST("/message", h.message)
	g.GET("/conversations", h.list)
	g.GET("/conversations/:id", h.state)
	g.GET("/conversations/:id/history", h.history)
	g.DELETE("/conversations/:id", h.clear)
	g.POST("/conversations/:id/confirm", h.confirm)
	g.POST("/policy/query", h.policyQuery)
}

func (h *ConversationsHandler) identity(c echo.Context, fromBody string) string {
	if sub, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return sub
	}
	if h.TrustBodyIdentity {
		return strings.TrimSpace(fromBody)
	}
	return ""
}

// message
//
//	@Summary		Send a chat message
//	@Description	Runs one conversation turn and returns the response envelope
//	@Tags			conversations
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		MessageRequest	true	"Turn payload"
//	@Success		200		{object}	orchestrator.Response
//	@Failure		400		{object}	HTTPError
//	@Router			/v1/message [post]
func (h *ConversationsHandler) message(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Message = helpers.SanitizeMessage(req.Message)
	if req.Message == "" && strings.TrimSpace(req.Confirmation) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.Confirmation != "" {
		if _, ok := orchestrator.ParseDecision(req.Confirmation); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "confirmation must be confirm or decline")
		}
		if req.Message == "" {
			req.Message = strings.ToLower(strings.TrimSpace(req.Confirmation))
		}
	}
	resp := h.Engine.Handle(c.Request().Context(), orchestrator.TurnRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Identity:       h.identity(c, req.UserIdentity),
		Confirmation:   req.Confirmation,
	})
	return c.JSON(http.StatusOK, resp)
}

// list
//
//	@Summary	List conversations
//	@Tags		conversations
//	@Produce	json
//	@Success	200	{object}	ConversationsResponse
//	@Router		/v1/conversations [get]
func (h *ConversationsHandler) list(c echo.Context) error {
	ids, err := h.Engine.Conversations(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ConversationsResponse{Conversations: ids})
}

// state
//
//	@Summary	Get conversation state
//	@Tags		conversations
//	@Produce	json
//	@Param		id	path		string	true	"Conversation ID"
//	@Success	200	{object}	conversation.State
//	@Failure	404	{object}	HTTPError
//	@Router		/v1/conversations/{id} [get]
func (h *ConversationsHandler) state(c echo.Context) error {
	s, err := h.Engine.State(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if s == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, s)
}

// history
//
//	@Summary	Get conversation history
//	@Tags		conversations
//	@Produce	json
//	@Param		id	path		string	true	"Conversation ID"
//	@Success	200	{object}	HistoryResponse
//	@Router		/v1/conversations/{id}/history [get]
func (h *ConversationsHandler) history(c echo.Context) error {
	id := c.Param("id")
	msgs, err := h.Engine.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{ConversationID: id, Messages: msgs})
}

// clear
//
//	@Summary	Clear a conversation
//	@Tags		conversations
//	@Param		id	path	string	true	"Conversation ID"
//	@Success	204
//	@Router		/v1/conversations/{id} [delete]
func (h *ConversationsHandler) clear(c echo.Context) error {
	if err := h.Engine.Clear(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// confirm
//
//	@Summary		Answer a pending confirmation
//	@Description	Button-style typed confirmation; 409 when nothing is awaiting confirmation
//	@Tags			conversations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Conversation ID"
//	@Param			payload	body		ConfirmRequest	true	"Decision"
//	@Success		200		{object}	orchestrator.Response
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Failure		409		{object}	HTTPError
//	@Router			/v1/conversations/{id}/confirm [post]
func (h *ConversationsHandler) confirm(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, ok := orchestrator.ParseDecision(req.Decision)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be confirm or decline")
	}
	resp, err := h.Engine.Confirm(c.Request().Context(), c.Param("id"), h.identity(c, ""), d)
	switch {
	case errors.Is(err, orchestrator.ErrConversationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNothingPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// policyQuery
//
//	@Summary	Ask a policy question
//	@Tags		policy
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		PolicyQueryRequest	true	"Question"
//	@Success	200		{object}	PolicyQueryResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/v1/policy/query [post]
func (h *ConversationsHandler) policyQuery(c echo.Context) error {
	var req PolicyQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q := helpers.SanitizeMessage(req.Query)
	if len(q) < minQueryLength {
		return echo.NewHTTPError(http.StatusBadRequest, "query must be at least 3 characters")
	}
	ctx := c.Request().Context()
	answer, err := h.Knowledge.AnswerInformational(ctx, q, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	hits, err := h.Knowledge.Search(ctx, q, 3)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := PolicyQueryResponse{Answer: answer}
	for _, hit := range hits {
		resp.Sources = append(resp.Sources, hit.Document.ID)
	}
	return c.JSON(http.StatusOK, resp)
}
