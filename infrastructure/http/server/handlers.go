package server

import (
	"dm-lab/auth"
	"dm-lab/domain"
	"dm-lab/errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	ClientMsgID    string `json:"clientMsgId"`
}

type startConversationRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) register(c *gin.Context) {
	var req auth.RegisterRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.services.Auth.Register(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) login(c *gin.Context) {
	var req auth.LoginRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.services.Auth.Login(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) listConversations(c *gin.Context) {
	ctx := c.Request.Context()
	summaries, err := s.services.Directory.ListConversations(ctx, auth.UserID(ctx))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(summaries))
}

func (s *Server) startConversation(c *gin.Context) {
	var req startConversationRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	summary, err := s.services.Directory.StartConversation(ctx, domain.StartConversationCommand{
		CallerID: auth.UserID(ctx),
		TargetID: req.UserID,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	messages, err := s.services.Chat.ListMessages(ctx, domain.ListMessagesCommand{
		ConversationID: c.Param("conversationId"),
		RequesterID:    auth.UserID(ctx),
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(messages))
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	message, err := s.services.Chat.SendMessage(ctx, domain.SendMessageCommand{
		SenderID:       auth.UserID(ctx),
		ConversationID: req.ConversationID,
		Content:        req.Content,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (s *Server) listUsers(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := s.services.Users.ListUsers(ctx, auth.UserID(ctx), c.Query("q"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(users))
}

func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.abort(c, fmt.Errorf("%w: malformed body: %w", errors.ErrValidation, err))
		return false
	}
	return true
}

// nonNil keeps empty lists as [] on the wire.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
