package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/gin-gonic/gin"

	"github.com/mixelka/inboxtriage/internal/email"
	"github.com/mixelka/inboxtriage/internal/smtp"
)

// MaxListLimit caps ?limit= on the email listing
const MaxListLimit = 100

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, kind, details string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: kind, Details: details})
}

// health handles GET /health
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listEmails handles GET /api/emails
func (s *Server) listEmails(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			abortWithError(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	msgs, err := s.ingestor.Run(c.Request.Context(), limit)
	if err != nil {
		var authErr *email.AuthenticationError
		var connErr *email.ConnectivityError
		switch {
		case errors.As(err, &authErr):
			abortWithError(c, http.StatusUnauthorized, "authentication_failed", err.Error())
		case errors.As(err, &connErr):
			abortWithError(c, http.StatusBadGateway, "mailbox_unavailable", err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "fetch_failed", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, s.formatter.FormatEmails(msgs))
}

type replyRequest struct {
	Body string `json:"body"`
}

// generateReply handles POST /api/reply
func (s *Server) generateReply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "email body content is required")
		return
	}

	// Pasted HTML would waste the prompt on markup
	if s.html.LooksLikeHTML(body) {
		if text, err := s.html.Parse(body); err == nil && text != "" {
			body = text
		}
	}

	reply, err := s.replies.GenerateReply(c.Request.Context(), body)
	if err != nil {
		s.logger.Error("failed to generate reply", "error", err)
		abortWithError(c, http.StatusInternalServerError, "reply_failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

type sendRequest struct {
	To      string `json:"to"`
	Reply   string `json:"reply"`
	Subject string `json:"subject"`
	ID      *int64 `json:"id"`
}

// sendReply handles POST /api/send
func (s *Server) sendReply(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Reply) == "" {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "recipient and reply are required")
		return
	}

	validation := mailvalidate.ValidateEmailSyntax(req.To)
	if !validation.IsValid {
		abortWithError(c, http.StatusBadRequest, "invalid_recipient", "recipient address is not valid")
		return
	}

	if req.ID != nil && (*req.ID < 1 || *req.ID > math.MaxUint32) {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "id is not a valid message id")
		return
	}

	err := s.sender.Send(c.Request.Context(), smtp.Outgoing{
		To:      validation.CleanEmail,
		Subject: req.Subject,
		Body:    req.Reply,
	})
	if err != nil {
		var authErr *smtp.AuthenticationError
		switch {
		case errors.As(err, &authErr):
			abortWithError(c, http.StatusUnauthorized, "smtp_authentication_failed", "SMTP authentication failed")
		case errors.Is(err, smtp.ErrInvalidRecipient), errors.Is(err, smtp.ErrEmptyBody):
			abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "send_failed", err.Error())
		}
		return
	}

	if req.ID != nil {
		s.markAnswered(c, *req.ID)
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// markAnswered records the reply and marks the message seen. The reply is
// already delivered, so failures are only logged.
func (s *Server) markAnswered(c *gin.Context, id int64) {
	ctx := c.Request.Context()

	if err := s.recorder.MarkMessageReplied(ctx, id); err != nil {
		s.logger.Warn("failed to record reply", "uid", id, "error", err)
	}
	s.seen.MarkSeen(ctx, uint32(id))
}
