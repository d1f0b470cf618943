package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/inboxtriage/internal/email"
	"github.com/mixelka/inboxtriage/internal/smtp"
	"github.com/mixelka/inboxtriage/pkg/models"
)

type fakeIngestor struct {
	msgs  []models.MailboxMessage
	err   error
	limit int
}

func (f *fakeIngestor) Run(_ context.Context, limit int) ([]models.MailboxMessage, error) {
	f.limit = limit
	return f.msgs, f.err
}

type fakeReplies struct {
	reply string
	err   error
	body  string
}

func (f *fakeReplies) GenerateReply(_ context.Context, body string) (string, error) {
	f.body = body
	return f.reply, f.err
}

type fakeSender struct {
	err  error
	sent []smtp.Outgoing
}

func (f *fakeSender) Send(_ context.Context, msg smtp.Outgoing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRecorder struct {
	err     error
	replied []int64
}

func (f *fakeRecorder) MarkMessageReplied(_ context.Context, id int64) error {
	f.replied = append(f.replied, id)
	return f.err
}

type fakeSeen struct {
	seen []uint32
}

func (f *fakeSeen) MarkSeen(_ context.Context, id uint32) {
	f.seen = append(f.seen, id)
}

type testEnv struct {
	ingestor *fakeIngestor
	replies  *fakeReplies
	sender   *fakeSender
	recorder *fakeRecorder
	seen     *fakeSeen
	handler  http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ingestor: &fakeIngestor{},
		replies:  &fakeReplies{reply: "Thanks, we are on it."},
		sender:   &fakeSender{},
		recorder: &fakeRecorder{},
		seen:     &fakeSeen{},
	}
	env.handler = NewServer(Deps{
		Ingestor: env.ingestor,
		Replies:  env.replies,
		Sender:   env.sender,
		Recorder: env.recorder,
		Seen:     env.seen,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).Handler()
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	rec := newTestEnv().do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListEmails(t *testing.T) {
	env := newTestEnv()
	env.ingestor.msgs = []models.MailboxMessage{{
		ID:       5,
		Sender:   "bob@example.org",
		Subject:  "Help",
		Date:     "Tue, 1 Oct 2024 09:00:00 +0000",
		IsRead:   true,
		Body:     models.TextBody("  my printer is broken \n"),
		Category: "support",
	}, {
		ID:       4,
		Sender:   "news@example.org",
		Category: "newsletter",
	}}

	rec := env.do(http.MethodGet, "/api/emails", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.ingestor.limit)
	assert.JSONEq(t, `[
		{"id":5,"from":"bob@example.org","title":"Help","date":"Tue, 1 Oct 2024 09:00:00 +0000","read":"read","replied":"not replied","classification":"support","body":"my printer is broken","email":"bob@example.org"},
		{"id":4,"from":"news@example.org","title":"","date":"","read":"unread","replied":"not replied","classification":"newsletter","body":"No content","email":"news@example.org"}
	]`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListEmails_Empty(t *testing.T) {
	rec := newTestEnv().do(http.MethodGet, "/api/emails", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListEmails_Limit(t *testing.T) {
	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"?limit=3", http.StatusOK, 3},
		{"?limit=500", http.StatusOK, MaxListLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := newTestEnv()
			rec := env.do(http.MethodGet, "/api/emails"+tt.query, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLimit, env.ingestor.limit)
		})
	}
}

func TestListEmails_SessionFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "bad credentials",
			err:      &email.AuthenticationError{Username: "me", Err: errors.New("invalid credentials")},
			wantCode: http.StatusUnauthorized,
			wantKind: "authentication_failed",
		},
		{
			name:     "server unreachable",
			err:      &email.ConnectivityError{Op: "dial", Server: "imap.example.org:993", Err: errors.New("refused")},
			wantCode: http.StatusBadGateway,
			wantKind: "mailbox_unavailable",
		},
		{
			name:     "other",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantKind: "fetch_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.ingestor.err = tt.err

			rec := env.do(http.MethodGet, "/api/emails", "")

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, resp.Error)
			assert.NotEmpty(t, resp.Details)
		})
	}
}

func TestGenerateReply(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/reply", `{"body":"  Where is my order?  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"Thanks, we are on it."}`, rec.Body.String())
	assert.Equal(t, "Where is my order?", env.replies.body)
}

func TestGenerateReply_HTMLInput(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/reply", `{"body":"<p>Hello</p><p>Where is my <b>order</b>?</p>"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, env.replies.body, "<p>")
	assert.Contains(t, env.replies.body, "Hello")
	assert.Contains(t, env.replies.body, "order")
}

func TestGenerateReply_ProseWithAngleBrackets(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/reply", `{"body":"if x <a and y> 3 then\nline two"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "if x <a and y> 3 then\nline two", env.replies.body)
}

func TestGenerateReply_BadRequests(t *testing.T) {
	for _, body := range []string{`{}`, `{"body":"   "}`, `not json`} {
		t.Run(body, func(t *testing.T) {
			env := newTestEnv()
			rec := env.do(http.MethodPost, "/api/reply", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
			assert.Empty(t, env.replies.body)
		})
	}
}

func TestGenerateReply_OracleFailure(t *testing.T) {
	env := newTestEnv()
	env.replies.err = errors.New("rate limited")

	rec := env.do(http.MethodPost, "/api/reply", `{"body":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "reply_failed", resp.Error)
	assert.Contains(t, resp.Details, "rate limited")
}

func TestSendReply(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/send", `{"to":"jane@acme.com","reply":"Done.","subject":"Re: Order"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"sent"}`, rec.Body.String())
	require.Len(t, env.sender.sent, 1)
	assert.Equal(t, smtp.Outgoing{To: "jane@acme.com", Subject: "Re: Order", Body: "Done."}, env.sender.sent[0])

	// No id, nothing to reconcile
	assert.Empty(t, env.recorder.replied)
	assert.Empty(t, env.seen.seen)
}

func TestSendReply_MarksAnswered(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/send", `{"to":"jane@acme.com","reply":"Done.","id":42}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{42}, env.recorder.replied)
	assert.Equal(t, []uint32{42}, env.seen.seen)
}

func TestSendReply_BookkeepingFailureStillSent(t *testing.T) {
	env := newTestEnv()
	env.recorder.err = errors.New("database is locked")

	rec := env.do(http.MethodPost, "/api/send", `{"to":"jane@acme.com","reply":"Done.","id":42}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint32{42}, env.seen.seen)
}

func TestSendReply_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind string
	}{
		{"missing recipient", `{"reply":"Done."}`, "invalid_request"},
		{"missing reply", `{"to":"jane@acme.com"}`, "invalid_request"},
		{"blank reply", `{"to":"jane@acme.com","reply":"  "}`, "invalid_request"},
		{"invalid recipient", `{"to":"not-an-address","reply":"Done."}`, "invalid_recipient"},
		{"invalid id", `{"to":"jane@acme.com","reply":"Done.","id":-1}`, "invalid_request"},
		{"malformed json", `{"to":`, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec := env.do(http.MethodPost, "/api/send", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Error)
			assert.Empty(t, env.sender.sent)
		})
	}
}

func TestSendReply_SMTPFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "auth rejected",
			err:      &smtp.AuthenticationError{Username: "me", Err: errors.New("535")},
			wantCode: http.StatusUnauthorized,
			wantKind: "smtp_authentication_failed",
		},
		{
			name:     "network",
			err:      errors.New("connection refused"),
			wantCode: http.StatusInternalServerError,
			wantKind: "send_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.sender.err = tt.err

			rec := env.do(http.MethodPost, "/api/send", `{"to":"jane@acme.com","reply":"Done.","id":7}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Error)
			assert.Empty(t, env.recorder.replied)
			assert.Empty(t, env.seen.seen)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := newTestEnv().do(http.MethodOptions, "/api/send", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

type panicIngestor struct{}

func (panicIngestor) Run(context.Context, int) ([]models.MailboxMessage, error) {
	panic("unexpected")
}

func TestRecovery(t *testing.T) {
	handler := NewServer(Deps{
		Ingestor: panicIngestor{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/emails", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Error)
}
