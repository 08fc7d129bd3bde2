package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xenking/storefront-api/internal/domain/chat"
)

type startChatRequest struct {
	Phone string `json:"phoneNumber"`
	Name  string `json:"name"`
}

type chatSessionResponse struct {
	ID             string         `json:"id"`
	Phone          string         `json:"phoneNumber"`
	Name           string         `json:"name"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	Status         chat.Status    `json:"status"`
	StartedAsGuest bool           `json:"startedAsGuest"`
	Messages       []chat.Message `json:"messages"`
	LastMessageAt  time.Time      `json:"lastMessageAt"`
	CreatedAt      time.Time      `json:"createdAt"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty"`
}

func toChatSessionResponse(s *chat.Session) chatSessionResponse {
	messages := s.Messages
	if messages == nil {
		messages = []chat.Message{}
	}
	return chatSessionResponse{
		ID:             s.ID,
		Phone:          s.Phone,
		Name:           s.Name,
		OrderNumber:    s.OrderNumber,
		Status:         s.Status,
		StartedAsGuest: s.StartedAsGuest,
		Messages:       messages,
		LastMessageAt:  s.LastMessageAt,
		CreatedAt:      s.CreatedAt,
		ClosedAt:       s.ClosedAt,
	}
}

// StartChatSession opens a support conversation, or returns the one already
// open for the phone number.
func (h *Handler) StartChatSession(w http.ResponseWriter, r *http.Request) {
	var req startChatRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.chats.Start(r.Context(), req.Phone, req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, toChatSessionResponse(s))
}

// GetChatSession returns a full conversation transcript.
func (h *Handler) GetChatSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.chats.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toChatSessionResponse(s))
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// PostChatMessage appends a message to an open conversation. The route is
// unauthenticated, so the sender is always the customer; admins and the
// system write through the websocket and the close flow.
func (h *Handler) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.chats.PostMessage(r.Context(), r.PathValue("id"), chat.SenderCustomer, req.Text)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toChatSessionResponse(s))
}

type closeChatRequest struct {
	By string `json:"by"`
}

// CloseChatSession ends a conversation from the customer side.
func (h *Handler) CloseChatSession(w http.ResponseWriter, r *http.Request) {
	var req closeChatRequest
	_ = decode(r, &req) // body is optional

	s, err := h.chats.Close(r.Context(), r.PathValue("id"), req.By)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toChatSessionResponse(s))
}

// AdminCloseChatSession ends a conversation from the support console.
func (h *Handler) AdminCloseChatSession(w http.ResponseWriter, r *http.Request) {
	var req closeChatRequest
	_ = decode(r, &req)
	if req.By == "" {
		req.By = "support"
	}

	s, err := h.chats.Close(r.Context(), r.PathValue("id"), req.By)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toChatSessionResponse(s))
}

// ListChatSessions returns session summaries for the support console.
func (h *Handler) ListChatSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	summaries, err := h.chats.ListOpen(r.Context(), chat.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if summaries == nil {
		summaries = []chat.Summary{}
	}
	h.respond(w, http.StatusOK, summaries)
}
