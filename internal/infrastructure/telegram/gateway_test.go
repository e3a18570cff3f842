package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/internal/config"
	"github.com/tokengate/internal/domain"
)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(&config.Config{BotAPIBase: srv.URL, BotToken: "123:abc"})
}

func TestSendMessage(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		assert.Equal(t, "hello", r.PostForm.Get("text"))
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))

	err := g.SendMessage(context.Background(), "42", "hello")
	assert.NoError(t, err)
}

func TestSendMessage_BlockedByUser(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	}))

	err := g.SendMessage(context.Background(), "42", "hello")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "blocked by the user")
}

func TestSendMessage_RateLimited(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`)
	}))

	err := g.SendMessage(context.Background(), "42", "hello")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Contains(t, err.Error(), "7s")
}

func TestCreateInviteLink(t *testing.T) {
	expireAt := time.Now().Add(10 * time.Minute)
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/createChatInviteLink", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "-100999", r.PostForm.Get("chat_id"))
		assert.Equal(t, "1", r.PostForm.Get("member_limit"))
		assert.Equal(t, fmt.Sprint(expireAt.Unix()), r.PostForm.Get("expire_date"))
		fmt.Fprint(w, `{"ok":true,"result":{"invite_link":"https://t.me/+secret"}}`)
	}))

	link, err := g.CreateInviteLink(context.Background(), "-100999", expireAt)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+secret", link)
}

func TestRevokeInviteLink(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/revokeChatInviteLink", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://t.me/+secret", r.PostForm.Get("invite_link"))
		fmt.Fprint(w, `{"ok":true,"result":{"invite_link":"https://t.me/+secret","is_revoked":true}}`)
	}))

	err := g.RevokeInviteLink(context.Background(), "-100999", "https://t.me/+secret")
	assert.NoError(t, err)
}

func TestKickMember_BanThenUnban(t *testing.T) {
	var methods []string
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "7", r.PostForm.Get("user_id"))
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))

	err := g.KickMember(context.Background(), "-100999", "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bot123:abc/banChatMember", "/bot123:abc/unbanChatMember"}, methods)
}

func TestKickMember_BanFails(t *testing.T) {
	var calls int
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: user not found"}`)
	}))

	err := g.KickMember(context.Background(), "-100999", "7")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, 1, calls, "unban must not run when the ban failed")
}
