package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"dockit/app/pkg/types"
)

const (
	defaultAPIRoot   = "https://slack.com/api"
	defaultPageLimit = 50
)

type Config struct {
	BotToken  string
	Workspace string
	Channels  []string
	APIRoot   string
	PageLimit int
}

// Integration reads channel history through the Slack Web API with a bot
// token. One raw item per message; the item id carries channel and ts so the
// deep link can be rebuilt without I/O.
type Integration struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	connected bool
}

func New(cfg Config) *Integration {
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	return &Integration{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (s *Integration) Source() types.TaskSource {
	return types.SourceSlack
}

func (s *Integration) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Integration) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if strings.TrimSpace(s.cfg.BotToken) == "" {
		return fmt.Errorf("%w: slack bot token is required", types.ErrAuthenticationFailed)
	}

	var ack authTestResponse
	if err := s.call(ctx, "auth.test", nil, &ack); err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Integration) FetchNewItems(ctx context.Context, since *time.Time) ([]types.RawInboxItem, error) {
	if !s.IsConnected() {
		return nil, fmt.Errorf("%w: slack integration is not connected", types.ErrAuthenticationFailed)
	}

	var items []types.RawInboxItem
	for _, channel := range s.cfg.Channels {
		channel = strings.TrimSpace(channel)
		if channel == "" {
			continue
		}

		params := url.Values{}
		params.Set("channel", channel)
		params.Set("limit", strconv.Itoa(s.cfg.PageLimit))
		if since != nil {
			// oldest is exclusive unless inclusive=true, which gives
			// the strictly-after window directly
			params.Set("oldest", fmt.Sprintf("%d.000000", since.Unix()))
		}

		var history historyResponse
		if err := s.call(ctx, "conversations.history", params, &history); err != nil {
			return nil, err
		}

		// history is newest first; append oldest first
		for i := len(history.Messages) - 1; i >= 0; i-- {
			msg := history.Messages[i]
			if msg.Type != "message" || msg.Subtype != "" {
				continue
			}
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			ts := parseSlackTS(msg.Ts)
			if since != nil && !ts.After(*since) {
				continue
			}
			items = append(items, types.RawInboxItem{
				ID:        channel + "/" + msg.Ts,
				Content:   msg.Text,
				Sender:    msg.User,
				Timestamp: ts,
				Source:    types.SourceSlack,
				RawMetadata: map[string]interface{}{
					"channel":   channel,
					"ts":        msg.Ts,
					"thread_ts": msg.ThreadTs,
				},
			})
		}
	}
	return items, nil
}

// DeepLink rebuilds the archives URL from a "<channel>/<ts>" item id.
func (s *Integration) DeepLink(itemID string) string {
	workspace := strings.TrimSpace(s.cfg.Workspace)
	parts := strings.SplitN(strings.TrimSpace(itemID), "/", 2)
	if workspace == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.slack.com/archives/%s/p%s", workspace, parts[0], strings.ReplaceAll(parts[1], ".", ""))
}

func (s *Integration) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	endpoint := strings.TrimRight(s.cfg.APIRoot, "/") + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: slack api status 429", types.ErrRateLimited)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: slack api status %d", types.ErrNetwork, resp.StatusCode)
	}

	var base apiResponse
	if err := json.Unmarshal(body, &base); err != nil {
		return fmt.Errorf("%w: decode slack response: %v", types.ErrParsing, err)
	}
	if !base.OK {
		return classifyAPIError(base.Error)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode slack %s response: %v", types.ErrParsing, method, err)
		}
	}
	return nil
}

func classifyAPIError(code string) error {
	switch code {
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive", "missing_scope":
		return fmt.Errorf("%w: slack api error: %s", types.ErrAuthenticationFailed, code)
	case "ratelimited", "rate_limited":
		return fmt.Errorf("%w: slack api error: %s", types.ErrRateLimited, code)
	default:
		return fmt.Errorf("%w: slack api error: %s", types.ErrNetwork, code)
	}
}

func parseSlackTS(ts string) time.Time {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	secs := int64(seconds)
	nanos := int64((seconds - float64(secs)) * 1e9)
	return time.Unix(secs, nanos).UTC()
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type authTestResponse struct {
	apiResponse
	Team string `json:"team"`
	User string `json:"user"`
}

type historyResponse struct {
	apiResponse
	Messages []slackMessage `json:"messages"`
}

type slackMessage struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Ts       string `json:"ts"`
	ThreadTs string `json:"thread_ts"`
}

var _ types.SourceIntegration = (*Integration)(nil)
