package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/inboxtriage/internal/formatter"
	"github.com/mixelka/inboxtriage/internal/parser"
	"github.com/mixelka/inboxtriage/internal/smtp"
	"github.com/mixelka/inboxtriage/pkg/models"
)

// Ingestor runs one ingestion pass over the newest messages
type Ingestor interface {
	Run(ctx context.Context, limit int) ([]models.MailboxMessage, error)
}

// ReplyGenerator drafts a reply to an email body
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, body string) (string, error)
}

// Sender delivers an outgoing reply
type Sender interface {
	Send(ctx context.Context, msg smtp.Outgoing) error
}

// ReplyRecorder persists the replied flag
type ReplyRecorder interface {
	MarkMessageReplied(ctx context.Context, id int64) error
}

// SeenMarker sets \Seen on a mailbox message, best effort
type SeenMarker interface {
	MarkSeen(ctx context.Context, id uint32)
}

// Deps dependencies for creating the API server
type Deps struct {
	Ingestor  Ingestor
	Replies   ReplyGenerator
	Sender    Sender
	Recorder  ReplyRecorder
	Seen      SeenMarker
	Formatter *formatter.EmailFormatter
	HTML      *parser.HTMLParser
	Logger    *slog.Logger
}

// Server is the HTTP surface over ingestion and the reply workflow
type Server struct {
	engine    *gin.Engine
	ingestor  Ingestor
	replies   ReplyGenerator
	sender    Sender
	recorder  ReplyRecorder
	seen      SeenMarker
	formatter *formatter.EmailFormatter
	html      *parser.HTMLParser
	logger    *slog.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    gin.New(),
		ingestor:  deps.Ingestor,
		replies:   deps.Replies,
		sender:    deps.Sender,
		recorder:  deps.Recorder,
		seen:      deps.Seen,
		formatter: deps.Formatter,
		html:      deps.HTML,
		logger:    deps.Logger.With("component", "api"),
	}
	if s.formatter == nil {
		s.formatter = formatter.NewEmailFormatter()
	}
	if s.html == nil {
		s.html = parser.NewHTMLParser()
	}

	s.engine.Use(recovery(s.logger), requestLogger(s.logger), cors())
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)

	api := s.engine.Group("/api")
	{
		api.GET("/emails", s.listEmails)
		api.POST("/reply", s.generateReply)
		api.POST("/send", s.sendReply)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}
