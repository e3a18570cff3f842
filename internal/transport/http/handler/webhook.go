package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tokengate/internal/application/invites"
	"github.com/tokengate/internal/application/onboarding"
	"github.com/tokengate/internal/application/status"
	"github.com/tokengate/internal/application/verification"
	"github.com/tokengate/internal/infrastructure/telegram"
)

const (
	msgWelcome = "Hi! Open a group's verification link to start, or ask a group admin for one."
	msgHelp    = "Nothing in progress. Open a verification link to start, or type /start."
	msgUsage   = "Usage: %s <group_id>"
)

type messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// WebhookHandler receives Bot API updates and routes them into the
// application services. Everything after the secret check answers 200:
// Telegram redelivers non-2xx responses forever, and a poison update must
// not wedge the queue.
type WebhookHandler struct {
	engine     verification.Service
	onboarding onboarding.Service
	invites    invites.Service
	status     status.Service
	gw         messenger

	ownerUserID string
	secret      string
	log         *zap.Logger
}

type WebhookDeps struct {
	Engine      verification.Service
	Onboarding  onboarding.Service
	Invites     invites.Service
	Status      status.Service
	Gateway     messenger
	OwnerUserID string
	Secret      string
	Logger      *zap.Logger
}

func NewWebhookHandler(deps WebhookDeps) *WebhookHandler {
	return &WebhookHandler{
		engine:      deps.Engine,
		onboarding:  deps.Onboarding,
		invites:     deps.Invites,
		status:      deps.Status,
		gw:          deps.Gateway,
		ownerUserID: deps.OwnerUserID,
		secret:      deps.Secret,
		log:         deps.Logger,
	}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	got := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unknown webhook")
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update body")
		return
	}

	h.dispatch(r.Context(), &upd)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
}

func (h *WebhookHandler) dispatch(ctx context.Context, upd *telegram.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.Chat.IsGroup():
		h.handleGroupMessage(ctx, msg, userID, chatID)
	case msg.Chat.Type == telegram.ChatTypePrivate:
		h.handlePrivateMessage(ctx, userID, msg.Text)
	}
}

func (h *WebhookHandler) handleGroupMessage(ctx context.Context, msg *telegram.Message, userID, chatID string) {
	if len(msg.NewChatMembers) > 0 {
		for _, joined := range msg.NewChatMembers {
			if joined.IsBot {
				continue
			}
			jid := strconv.FormatInt(joined.ID, 10)
			if err := h.invites.HandleJoin(ctx, chatID, jid); err != nil {
				h.log.Warn("join handling failed",
					zap.String("group_id", chatID), zap.String("user_id", jid), zap.Error(err))
			}
		}
		return
	}

	cmd, _ := splitCommand(msg.Text)
	switch cmd {
	case "/setup":
		if err := h.onboarding.RequestSetup(ctx, chatID, msg.Chat.Title, userID); err != nil {
			h.log.Warn("setup request failed", zap.String("group_id", chatID), zap.Error(err))
		}
	case "/status":
		if userID != h.ownerUserID {
			return
		}
		st, err := h.status.Get(ctx, chatID)
		if err != nil {
			h.reply(ctx, chatID, "No verification configured for this group.")
			return
		}
		h.reply(ctx, chatID, formatGroupStatus(st))
	}
}

func (h *WebhookHandler) handlePrivateMessage(ctx context.Context, userID, text string) {
	text = strings.TrimSpace(text)

	if cmd, arg := splitCommand(text); cmd == "/start" {
		if arg == "" {
			h.reply(ctx, userID, msgWelcome)
			return
		}
		if err := h.engine.StartSession(ctx, userID, arg); err != nil {
			h.log.Warn("start session failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}

	if userID == h.ownerUserID && h.handleOwnerCommand(ctx, userID, text) {
		return
	}

	if handled, err := h.onboarding.HandleDialogMessage(ctx, userID, text); handled {
		if err != nil {
			h.log.Warn("setup dialog failed", zap.String("admin_id", userID), zap.Error(err))
		}
		return
	}
	if handled, err := h.engine.HandleMessage(ctx, userID, text); handled {
		if err != nil {
			h.log.Warn("verification message failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}

	h.reply(ctx, userID, msgHelp)
}

// handleOwnerCommand covers the owner's private management commands.
// Returns false for anything that is not one of them, so plain owner DMs
// still reach the dialog and verification handlers.
func (h *WebhookHandler) handleOwnerCommand(ctx context.Context, userID, text string) bool {
	cmd, arg := splitCommand(text)
	switch cmd {
	case "/approve":
		if arg == "" {
			h.reply(ctx, userID, fmt.Sprintf(msgUsage, cmd))
			return true
		}
		summary, err := h.onboarding.Approve(ctx, arg)
		if err != nil {
			h.reply(ctx, userID, "Approve failed: "+err.Error())
			return true
		}
		h.reply(ctx, userID, summary)
		return true

	case "/reject":
		if arg == "" {
			h.reply(ctx, userID, fmt.Sprintf(msgUsage, cmd))
			return true
		}
		summary, err := h.onboarding.Reject(ctx, arg)
		if err != nil {
			h.reply(ctx, userID, "Reject failed: "+err.Error())
			return true
		}
		h.reply(ctx, userID, summary)
		return true

	case "/pending":
		reqs, err := h.onboarding.PendingRequests(ctx)
		if err != nil {
			h.reply(ctx, userID, "Could not list pending requests: "+err.Error())
			return true
		}
		if len(reqs) == 0 {
			h.reply(ctx, userID, "No pending requests.")
			return true
		}
		var b strings.Builder
		b.WriteString("Pending requests:\n")
		for _, req := range reqs {
			fmt.Fprintf(&b, "• %q (%s) by admin %s\n", req.GroupName, req.GroupID, req.RequestingAdminID)
		}
		h.reply(ctx, userID, b.String())
		return true

	case "/whitelisted":
		entries, err := h.onboarding.WhitelistedGroups(ctx)
		if err != nil {
			h.reply(ctx, userID, "Could not list whitelisted groups: "+err.Error())
			return true
		}
		if len(entries) == 0 {
			h.reply(ctx, userID, "No whitelisted groups.")
			return true
		}
		var b strings.Builder
		b.WriteString("Whitelisted groups:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "• %q (%s)\n", e.GroupName, e.GroupID)
		}
		h.reply(ctx, userID, b.String())
		return true

	case "/blocked":
		blocked, err := h.onboarding.BlockedGroups(ctx)
		if err != nil {
			h.reply(ctx, userID, "Could not list blocked groups: "+err.Error())
			return true
		}
		if len(blocked) == 0 {
			h.reply(ctx, userID, "No blocked groups.")
			return true
		}
		var b strings.Builder
		b.WriteString("Blocked groups:\n")
		for _, r := range blocked {
			fmt.Fprintf(&b, "• %q (%s), %d rejections\n", r.GroupName, r.GroupID, r.RejectionCount)
		}
		h.reply(ctx, userID, b.String())
		return true

	case "/groups":
		groups, err := h.onboarding.Groups(ctx)
		if err != nil {
			h.reply(ctx, userID, "Could not list groups: "+err.Error())
			return true
		}
		if len(groups) == 0 {
			h.reply(ctx, userID, "No groups configured.")
			return true
		}
		var b strings.Builder
		b.WriteString("Configured groups:\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "• %s: token %s, min %s\n", g.GroupID, g.TokenAddress, g.MinBalance)
		}
		h.reply(ctx, userID, b.String())
		return true
	}
	return false
}

func (h *WebhookHandler) reply(ctx context.Context, chatID, text string) {
	if err := h.gw.SendMessage(ctx, chatID, text); err != nil {
		h.log.Warn("reply failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func formatGroupStatus(st *status.GroupStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verified members: %d\n", st.VerifiedCount)
	fmt.Fprintf(&b, "Token: %s (min %s)\n", st.Group.TokenAddress, st.Group.MinBalance)
	if st.Whitelisted {
		b.WriteString("Whitelisted: yes\n")
	}
	if st.HasLink {
		b.WriteString("Verification link: active")
	} else {
		b.WriteString("Verification link: missing")
	}
	return b.String()
}

// splitCommand splits "/cmd@BotName arg…" into the bare command and its
// argument string. Non-commands come back with an empty command.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd := parts[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}
