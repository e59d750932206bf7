package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"dockit/app/pkg/types"
)

const (
	user              = "me"
	defaultQuery      = "in:inbox -in:draft"
	defaultMaxResults = 25
)

type Config struct {
	CredentialsFile string
	TokenFile       string
	Query           string
	MaxResults      int64
}

// Integration reads the inbox through the Gmail REST API. The OAuth consent
// flow happens out of band; Connect only loads the stored credential and
// fails with ErrAuthenticationFailed when it is missing or unreadable.
type Integration struct {
	cfg Config

	mu  sync.RWMutex
	srv *gmailapi.Service
}

func New(cfg Config) *Integration {
	if strings.TrimSpace(cfg.Query) == "" {
		cfg.Query = defaultQuery
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &Integration{cfg: cfg}
}

func (g *Integration) Source() types.TaskSource {
	return types.SourceGmail
}

func (g *Integration) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.srv != nil
}

func (g *Integration) Connect(ctx context.Context) error {
	if g.IsConnected() {
		return nil
	}

	b, err := os.ReadFile(g.cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("%w: read client secret %s: %v", types.ErrAuthenticationFailed, g.cfg.CredentialsFile, err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope)
	if err != nil {
		return fmt.Errorf("%w: parse client secret: %v", types.ErrAuthenticationFailed, err)
	}
	tok, err := tokenFromFile(g.cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("%w: load token %s: %v", types.ErrAuthenticationFailed, g.cfg.TokenFile, err)
	}

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, tok)))
	if err != nil {
		return fmt.Errorf("%w: create gmail service: %v", types.ErrNetwork, err)
	}

	g.mu.Lock()
	g.srv = srv
	g.mu.Unlock()
	return nil
}

func (g *Integration) FetchNewItems(ctx context.Context, since *time.Time) ([]types.RawInboxItem, error) {
	g.mu.RLock()
	srv := g.srv
	g.mu.RUnlock()
	if srv == nil {
		return nil, fmt.Errorf("%w: gmail integration is not connected", types.ErrAuthenticationFailed)
	}

	query := g.cfg.Query
	if since != nil {
		// after: is day-granular; the exact cut happens below
		query = fmt.Sprintf("%s after:%d", query, since.Unix())
	}

	list, err := srv.Users.Messages.List(user).Q(query).MaxResults(g.cfg.MaxResults).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	// Gmail lists newest first; process oldest first so the caller's
	// watermark advances monotonically.
	items := make([]types.RawInboxItem, 0, len(list.Messages))
	for i := len(list.Messages) - 1; i >= 0; i-- {
		msgID := list.Messages[i].Id
		full, err := srv.Users.Messages.Get(user, msgID).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, classifyAPIError(err)
		}
		item, err := toRawItem(full)
		if err != nil {
			log.Printf("[Gmail] Skipping undecodable message %s: %v", msgID, err)
			continue
		}
		if since != nil && !item.Timestamp.After(*since) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *Integration) DeepLink(itemID string) string {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return ""
	}
	return "https://mail.google.com/mail/u/0/#inbox/" + id
}

func toRawItem(msg *gmailapi.Message) (types.RawInboxItem, error) {
	if msg == nil || msg.Payload == nil {
		return types.RawInboxItem{}, fmt.Errorf("%w: message has no payload", types.ErrParsing)
	}

	subject := headerValue(msg, "Subject")
	from := headerValue(msg, "From")
	body := plainTextBody(msg.Payload)
	content := subject
	if body != "" {
		content = subject + "\n\n" + body
	}
	if strings.TrimSpace(content) == "" {
		content = msg.Snippet
	}

	return types.RawInboxItem{
		ID:        msg.Id,
		Content:   content,
		Sender:    from,
		Timestamp: time.UnixMilli(msg.InternalDate).UTC(),
		Source:    types.SourceGmail,
		RawMetadata: map[string]interface{}{
			"thread_id": msg.ThreadId,
			"subject":   subject,
			"snippet":   msg.Snippet,
			"label_ids": msg.LabelIds,
		},
	}, nil
}

func headerValue(msg *gmailapi.Message, name string) string {
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// plainTextBody walks the MIME tree for the first decodable text part.
func plainTextBody(payload *gmailapi.MessagePart) string {
	if payload.MimeType == "text/plain" && payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, part := range payload.Parts {
		mime := strings.ToLower(part.MimeType)
		if strings.HasPrefix(mime, "text/") || strings.HasPrefix(mime, "multipart/") {
			if body := plainTextBody(part); body != "" {
				return body
			}
		}
	}
	return ""
}

func classifyAPIError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == 429 || isRateLimitReason(gErr):
			return fmt.Errorf("%w: gmail api status %d", types.ErrRateLimited, gErr.Code)
		case gErr.Code == 401 || gErr.Code == 403:
			return fmt.Errorf("%w: gmail api status %d", types.ErrAuthenticationFailed, gErr.Code)
		default:
			return fmt.Errorf("%w: gmail api status %d", types.ErrNetwork, gErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", types.ErrNetwork, err)
}

func isRateLimitReason(gErr *googleapi.Error) bool {
	for _, item := range gErr.Errors {
		reason := strings.ToLower(item.Reason)
		if strings.Contains(reason, "ratelimit") || reason == "quotaexceeded" {
			return true
		}
	}
	return false
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

var _ types.SourceIntegration = (*Integration)(nil)
