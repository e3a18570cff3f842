package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokengate/internal/application/status"
	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/infrastructure/telegram"
)

const (
	testSecret  = "hook-secret"
	testOwnerID = "99"
)

// --- mocks ---

type mockEngine struct{ mock.Mock }

func (m *mockEngine) StartSession(ctx context.Context, userID, linkToken string) error {
	return m.Called(ctx, userID, linkToken).Error(0)
}

func (m *mockEngine) HandleMessage(ctx context.Context, userID, text string) (bool, error) {
	args := m.Called(ctx, userID, text)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngine) ExpireIdleSessions(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func (m *mockEngine) ActiveSessions() int {
	return m.Called().Int(0)
}

func (m *mockEngine) PeekState(userID, groupID string) (domain.SessionState, bool) {
	args := m.Called(userID, groupID)
	return args.Get(0).(domain.SessionState), args.Bool(1)
}

type mockOnboarding struct{ mock.Mock }

func (m *mockOnboarding) RequestSetup(ctx context.Context, groupID, groupName, adminID string) error {
	return m.Called(ctx, groupID, groupName, adminID).Error(0)
}

func (m *mockOnboarding) HandleDialogMessage(ctx context.Context, adminID, text string) (bool, error) {
	args := m.Called(ctx, adminID, text)
	return args.Bool(0), args.Error(1)
}

func (m *mockOnboarding) Approve(ctx context.Context, groupID string) (string, error) {
	args := m.Called(ctx, groupID)
	return args.String(0), args.Error(1)
}

func (m *mockOnboarding) Reject(ctx context.Context, groupID string) (string, error) {
	args := m.Called(ctx, groupID)
	return args.String(0), args.Error(1)
}

func (m *mockOnboarding) ExpireIdleDialogs(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func (m *mockOnboarding) PendingRequests(ctx context.Context) ([]domain.PendingWhitelistRequest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.PendingWhitelistRequest), args.Error(1)
}

func (m *mockOnboarding) WhitelistedGroups(ctx context.Context) ([]domain.WhitelistEntry, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.WhitelistEntry), args.Error(1)
}

func (m *mockOnboarding) BlockedGroups(ctx context.Context) ([]domain.RejectedGroup, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.RejectedGroup), args.Error(1)
}

func (m *mockOnboarding) Rejections(ctx context.Context) ([]domain.RejectedGroup, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.RejectedGroup), args.Error(1)
}

func (m *mockOnboarding) Groups(ctx context.Context) ([]domain.GroupConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.GroupConfig), args.Error(1)
}

type mockInvites struct{ mock.Mock }

func (m *mockInvites) Issue(ctx context.Context, groupID, userID string) (string, error) {
	args := m.Called(ctx, groupID, userID)
	return args.String(0), args.Error(1)
}

func (m *mockInvites) HandleJoin(ctx context.Context, groupID, userID string) error {
	return m.Called(ctx, groupID, userID).Error(0)
}

func (m *mockInvites) Revoke(ctx context.Context, groupID, userID string) error {
	return m.Called(ctx, groupID, userID).Error(0)
}

type mockStatus struct{ mock.Mock }

func (m *mockStatus) Get(ctx context.Context, groupID string) (*status.GroupStatus, error) {
	args := m.Called(ctx, groupID)
	if st, _ := args.Get(0).(*status.GroupStatus); st != nil {
		return st, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStatus) Member(ctx context.Context, groupID, userID string) (*status.MemberStatus, error) {
	args := m.Called(ctx, groupID, userID)
	if st, _ := args.Get(0).(*status.MemberStatus); st != nil {
		return st, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) SendMessage(ctx context.Context, chatID, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

// --- helpers ---

type webhookMocks struct {
	engine     *mockEngine
	onboarding *mockOnboarding
	invites    *mockInvites
	status     *mockStatus
	gw         *mockMessenger
}

func newWebhook() (*WebhookHandler, *webhookMocks) {
	m := &webhookMocks{
		engine:     &mockEngine{},
		onboarding: &mockOnboarding{},
		invites:    &mockInvites{},
		status:     &mockStatus{},
		gw:         &mockMessenger{},
	}
	h := NewWebhookHandler(WebhookDeps{
		Engine:      m.engine,
		Onboarding:  m.onboarding,
		Invites:     m.invites,
		Status:      m.status,
		Gateway:     m.gw,
		OwnerUserID: testOwnerID,
		Secret:      testSecret,
		Logger:      zap.NewNop(),
	})
	return h, m
}

func (m *webhookMocks) assertAll(t *testing.T) {
	t.Helper()
	m.engine.AssertExpectations(t)
	m.onboarding.AssertExpectations(t)
	m.invites.AssertExpectations(t)
	m.status.AssertExpectations(t)
	m.gw.AssertExpectations(t)
}

// withSecret injects the chi URL param "secret" into the request context.
func withSecret(r *http.Request, secret string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("secret", secret)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// postUpdate serves an update through Receive with the given secret.
func postUpdate(t *testing.T, h *WebhookHandler, secret string, upd telegram.Update) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(upd)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/v1/telegram/webhook/"+secret, bytes.NewReader(body))
	r = withSecret(r, secret)
	rr := httptest.NewRecorder()
	h.Receive(rr, r)
	return rr
}

func privateMsg(userID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: userID, FirstName: "Sam"},
			Chat:      &telegram.Chat{ID: userID, Type: telegram.ChatTypePrivate},
			Text:      text,
		},
	}
}

func groupMsg(userID, chatID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: userID, FirstName: "Sam"},
			Chat:      &telegram.Chat{ID: chatID, Type: telegram.ChatTypeSupergroup, Title: "Holders Club"},
			Text:      text,
		},
	}
}

// --- Receive tests ---

func TestReceive_WrongSecret(t *testing.T) {
	h, _ := newWebhook()
	rr := postUpdate(t, h, "not-the-secret", privateMsg(1, "hello"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestReceive_InvalidBody(t *testing.T) {
	h, _ := newWebhook()
	r := httptest.NewRequest(http.MethodPost, "/v1/telegram/webhook/"+testSecret, strings.NewReader("not-json"))
	r = withSecret(r, testSecret)
	rr := httptest.NewRecorder()
	h.Receive(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReceive_EmptyUpdateAcknowledged(t *testing.T) {
	h, m := newWebhook()
	rr := postUpdate(t, h, testSecret, telegram.Update{UpdateID: 7})
	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_BotMessagesIgnored(t *testing.T) {
	h, m := newWebhook()
	upd := privateMsg(5, "/start tok")
	upd.Message.From.IsBot = true

	rr := postUpdate(t, h, testSecret, upd)

	assert.Equal(t, http.StatusOK, rr.Code)
	m.engine.AssertNotCalled(t, "StartSession", mock.Anything, mock.Anything, mock.Anything)
}

// --- private chat dispatch ---

func TestReceive_StartWithPayload(t *testing.T) {
	h, m := newWebhook()
	m.engine.On("StartSession", mock.Anything, "5", "tok-abc").Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "/start tok-abc"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_StartWithoutPayloadGetsWelcome(t *testing.T) {
	h, m := newWebhook()
	m.gw.On("SendMessage", mock.Anything, "5", msgWelcome).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "/start"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.engine.AssertNotCalled(t, "StartSession", mock.Anything, mock.Anything, mock.Anything)
	m.assertAll(t)
}

func TestReceive_PrivateTextRoutesDialogFirst(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("HandleDialogMessage", mock.Anything, "5", "0xabc").Return(true, nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "0xabc"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.engine.AssertNotCalled(t, "HandleMessage", mock.Anything, mock.Anything, mock.Anything)
	m.assertAll(t)
}

func TestReceive_PrivateTextFallsThroughToEngine(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("HandleDialogMessage", mock.Anything, "5", "0xabc").Return(false, nil)
	m.engine.On("HandleMessage", mock.Anything, "5", "0xabc").Return(true, nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "0xabc"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_UnhandledPrivateTextGetsHelp(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("HandleDialogMessage", mock.Anything, "5", "hello").Return(false, nil)
	m.engine.On("HandleMessage", mock.Anything, "5", "hello").Return(false, nil)
	m.gw.On("SendMessage", mock.Anything, "5", msgHelp).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "hello"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

// --- group chat dispatch ---

func TestReceive_GroupSetupCommand(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("RequestSetup", mock.Anything, "-100", "Holders Club", "5").Return(nil)

	rr := postUpdate(t, h, testSecret, groupMsg(5, -100, "/setup"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_GroupSetupWithBotSuffix(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("RequestSetup", mock.Anything, "-100", "Holders Club", "5").Return(nil)

	rr := postUpdate(t, h, testSecret, groupMsg(5, -100, "/setup@gatebot"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_NewMembersTriggerJoinGuard(t *testing.T) {
	h, m := newWebhook()
	upd := groupMsg(5, -100, "")
	upd.Message.NewChatMembers = []telegram.User{
		{ID: 11},
		{ID: 12, IsBot: true},
		{ID: 13},
	}
	m.invites.On("HandleJoin", mock.Anything, "-100", "11").Return(nil)
	m.invites.On("HandleJoin", mock.Anything, "-100", "13").Return(nil)

	rr := postUpdate(t, h, testSecret, upd)

	assert.Equal(t, http.StatusOK, rr.Code)
	m.invites.AssertNumberOfCalls(t, "HandleJoin", 2)
	m.assertAll(t)
}

func TestReceive_GroupStatusIgnoredForNonOwner(t *testing.T) {
	h, m := newWebhook()

	rr := postUpdate(t, h, testSecret, groupMsg(5, -100, "/status"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.status.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReceive_GroupStatusForOwner(t *testing.T) {
	h, m := newWebhook()
	st := &status.GroupStatus{
		Group:         &domain.GroupConfig{GroupID: "-100", TokenAddress: "0xtok", MinBalance: "5"},
		VerifiedCount: 3,
		Whitelisted:   true,
		HasLink:       true,
	}
	m.status.On("Get", mock.Anything, "-100").Return(st, nil)
	m.gw.On("SendMessage", mock.Anything, "-100", mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Verified members: 3")
	})).Return(nil)

	rr := postUpdate(t, h, testSecret, groupMsg(99, -100, "/status"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

// --- owner commands ---

func TestReceive_OwnerApprove(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("Approve", mock.Anything, "-100").Return("Whitelisted it.", nil)
	m.gw.On("SendMessage", mock.Anything, testOwnerID, "Whitelisted it.").Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/approve -100"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_OwnerApproveWithoutArg(t *testing.T) {
	h, m := newWebhook()
	m.gw.On("SendMessage", mock.Anything, testOwnerID, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "Usage:")
	})).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/approve"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.onboarding.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
	m.assertAll(t)
}

func TestReceive_OwnerRejectErrorReported(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("Reject", mock.Anything, "-100").Return("", domain.ErrNotFound)
	m.gw.On("SendMessage", mock.Anything, testOwnerID, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "Reject failed:")
	})).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/reject -100"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_OwnerPendingList(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("PendingRequests", mock.Anything).Return([]domain.PendingWhitelistRequest{
		{GroupID: "-100", GroupName: "Holders Club", RequestingAdminID: "5"},
	}, nil)
	m.gw.On("SendMessage", mock.Anything, testOwnerID, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Holders Club") && strings.Contains(text, "-100")
	})).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/pending"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_OwnerPendingListEmpty(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("PendingRequests", mock.Anything).Return([]domain.PendingWhitelistRequest{}, nil)
	m.gw.On("SendMessage", mock.Anything, testOwnerID, "No pending requests.").Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/pending"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_OwnerWhitelistedList(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("WhitelistedGroups", mock.Anything).Return([]domain.WhitelistEntry{
		{GroupID: "-100", GroupName: "Holders Club", Whitelisted: true},
	}, nil)
	m.gw.On("SendMessage", mock.Anything, testOwnerID, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Whitelisted groups:") && strings.Contains(text, "Holders Club")
	})).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(99, "/whitelisted"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.assertAll(t)
}

func TestReceive_OwnerCommandFromNonOwnerIgnored(t *testing.T) {
	h, m := newWebhook()
	m.onboarding.On("HandleDialogMessage", mock.Anything, "5", "/approve -100").Return(false, nil)
	m.engine.On("HandleMessage", mock.Anything, "5", "/approve -100").Return(false, nil)
	m.gw.On("SendMessage", mock.Anything, "5", msgHelp).Return(nil)

	rr := postUpdate(t, h, testSecret, privateMsg(5, "/approve -100"))

	assert.Equal(t, http.StatusOK, rr.Code)
	m.onboarding.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
	m.assertAll(t)
}

// --- splitCommand ---

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in  string
		cmd string
		arg string
	}{
		{"/start tok-abc", "/start", "tok-abc"},
		{"/start", "/start", ""},
		{"/setup@gatebot", "/setup", ""},
		{"/approve  -100 ", "/approve", "-100"},
		{"plain text", "", "plain text"},
		{"", "", ""},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		assert.Equal(t, tc.cmd, cmd, "input %q", tc.in)
		assert.Equal(t, tc.arg, arg, "input %q", tc.in)
	}
}
