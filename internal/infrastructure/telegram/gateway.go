package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokengate/internal/config"
	"github.com/tokengate/internal/domain"
)

// Gateway talks to the Telegram Bot API. Calls are single-shot: retrying a
// sendMessage that timed out after delivery would duplicate the message, so
// transient failures are surfaced to the caller instead.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewGateway(cfg *config.Config) *Gateway {
	return &Gateway{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BotAPIBase, "/"),
		token:      cfg.BotToken,
	}
}

// SendMessage delivers a Markdown-formatted message to a chat. The chat ID
// is a user ID for direct messages or a group ID for group chats.
func (g *Gateway) SendMessage(ctx context.Context, chatID, text string) error {
	p := url.Values{}
	p.Set("chat_id", chatID)
	p.Set("text", text)
	p.Set("parse_mode", "Markdown")
	p.Set("disable_web_page_preview", "true")
	return g.call(ctx, "sendMessage", p, nil)
}

// CreateInviteLink mints a single-member invite link that expires at the
// given time. Telegram enforces both limits server-side.
func (g *Gateway) CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time) (string, error) {
	p := url.Values{}
	p.Set("chat_id", chatID)
	p.Set("member_limit", "1")
	p.Set("expire_date", strconv.FormatInt(expireAt.Unix(), 10))

	var out struct {
		InviteLink string `json:"invite_link"`
	}
	if err := g.call(ctx, "createChatInviteLink", p, &out); err != nil {
		return "", err
	}
	return out.InviteLink, nil
}

// RevokeInviteLink invalidates a previously issued invite link.
func (g *Gateway) RevokeInviteLink(ctx context.Context, chatID, link string) error {
	p := url.Values{}
	p.Set("chat_id", chatID)
	p.Set("invite_link", link)
	return g.call(ctx, "revokeChatInviteLink", p, nil)
}

// KickMember removes a user from a group. The immediate unban lets them
// rejoin later through a fresh verification instead of being banned for
// good.
func (g *Gateway) KickMember(ctx context.Context, chatID, userID string) error {
	p := url.Values{}
	p.Set("chat_id", chatID)
	p.Set("user_id", userID)
	if err := g.call(ctx, "banChatMember", p, nil); err != nil {
		return err
	}

	p = url.Values{}
	p.Set("chat_id", chatID)
	p.Set("user_id", userID)
	p.Set("only_if_banned", "true")
	return g.call(ctx, "unbanChatMember", p, nil)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (g *Gateway) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	endpoint := g.baseURL + "/bot" + g.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %v: %w", method, err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode response: %v: %w", method, err, domain.ErrUnavailable)
	}
	if !env.OK {
		return apiError(method, &env)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// apiError maps a Bot API failure envelope onto the domain error taxonomy.
func apiError(method string, env *apiResponse) error {
	switch {
	case env.ErrorCode == http.StatusTooManyRequests:
		retryAfter := 0
		if env.Parameters != nil {
			retryAfter = env.Parameters.RetryAfter
		}
		return fmt.Errorf("telegram %s: retry after %ds: %w", method, retryAfter, domain.ErrRateLimited)
	case env.ErrorCode >= 500:
		return fmt.Errorf("telegram %s: %s: %w", method, env.Description, domain.ErrUnavailable)
	case env.ErrorCode == http.StatusForbidden:
		return fmt.Errorf("telegram %s: %s: %w", method, env.Description, domain.ErrForbidden)
	default:
		return fmt.Errorf("telegram %s: %s: %w", method, env.Description, domain.ErrBadRequest)
	}
}
