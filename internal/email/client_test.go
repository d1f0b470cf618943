package email

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The in-memory backend ships a single account with these credentials
const (
	testUser     = "username"
	testPassword = "password"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T) string {
	t.Helper()

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	return l.Addr().String()
}

func appendMessage(t *testing.T, addr, subject string, flags ...string) {
	t.Helper()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login(testUser, testPassword))

	msg := "From: Alice <alice@example.org>\r\n" +
		"To: inbox@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n"
	require.NoError(t, c.Append("INBOX", flags, time.Now(), bytes.NewBufferString(msg)))
}

func newTestReader(addr, password string) *Reader {
	return NewReader(ReaderConfig{
		Username:    testUser,
		Password:    password,
		Server:      addr,
		TLS:         false,
		DialTimeout: 5 * time.Second,
	}, testLogger())
}

func TestConnect_BadCredentials(t *testing.T) {
	addr := startTestServer(t)

	_, err := newTestReader(addr, "wrong").Connect(context.Background())
	require.Error(t, err)

	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, testUser, authErr.Username)
}

func TestConnect_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = newTestReader(addr, testPassword).Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectivityError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, "dial", connErr.Op)
}

func TestSession_ListAndFetch(t *testing.T) {
	addr := startTestServer(t)
	appendMessage(t, addr, "first")
	appendMessage(t, addr, "second")

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	ids, err := sess.ListRecentIDs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ids, 3) // backend seed message plus two appended

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i-1], ids[i], "ids must be newest first")
	}

	raw, err := sess.FetchRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], raw.ID)
	assert.Contains(t, string(raw.Raw), "Subject: second")
	assert.NotContains(t, raw.Flags, imap.SeenFlag)

	limited, err := sess.ListRecentIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], limited)
}

func TestSession_FetchDoesNotMarkSeen(t *testing.T) {
	addr := startTestServer(t)
	appendMessage(t, addr, "peek")

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	ids, err := sess.ListRecentIDs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	for i := 0; i < 2; i++ {
		raw, err := sess.FetchRaw(ctx, ids[0])
		require.NoError(t, err)
		assert.NotContains(t, raw.Flags, imap.SeenFlag)
	}
}

func TestSession_MarkSeen(t *testing.T) {
	addr := startTestServer(t)
	appendMessage(t, addr, "to be seen")

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	ids, err := sess.ListRecentIDs(ctx, 1)
	require.NoError(t, err)

	sess.MarkSeen(ctx, ids[0])
	sess.MarkSeen(ctx, ids[0])

	raw, err := sess.FetchRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Contains(t, raw.Flags, imap.SeenFlag)
}

func TestReader_MarkSeen(t *testing.T) {
	addr := startTestServer(t)
	appendMessage(t, addr, "seen via reader")
	reader := newTestReader(addr, testPassword)

	ctx := context.Background()
	sess, err := reader.Connect(ctx)
	require.NoError(t, err)
	ids, err := sess.ListRecentIDs(ctx, 1)
	require.NoError(t, err)
	sess.Close()

	reader.MarkSeen(ctx, ids[0])

	sess, err = reader.Connect(ctx)
	require.NoError(t, err)
	defer sess.Close()

	raw, err := sess.FetchRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Contains(t, raw.Flags, imap.SeenFlag)
}

func TestSession_FetchMissingKeepsSession(t *testing.T) {
	addr := startTestServer(t)
	appendMessage(t, addr, "still here")

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	ids, err := sess.ListRecentIDs(ctx, 1)
	require.NoError(t, err)

	_, err = sess.FetchRaw(ctx, ids[0]+100)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ids[0]+100, fetchErr.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	raw, err := sess.FetchRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw.Raw), "still here")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	addr := startTestServer(t)

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)

	sess.Close()
	sess.Close()

	_, err = sess.FetchRaw(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = sess.ListRecentIDs(context.Background(), 1)
	var connErr *ConnectivityError
	assert.ErrorAs(t, err, &connErr)
}

func TestSession_CancelledContext(t *testing.T) {
	addr := startTestServer(t)

	sess, err := newTestReader(addr, testPassword).Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sess.FetchRaw(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
