// Package feishu is a thin client for the Feishu open platform messaging
// endpoints. Tenant access tokens are exchanged from app credentials and
// managed by the core token provider.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/auth"
	"github.com/goliatone/go-outbound/core"
	filestore "github.com/goliatone/go-outbound/store/file"
	"github.com/goliatone/go-outbound/transport"
	"github.com/google/uuid"
)

const (
	ServiceName = "feishu"
	BaseURL     = "https://open.feishu.cn/open-apis"
	TokenPath   = "/auth/v3/tenant_access_token/internal"

	// Business codes returned in the body alongside HTTP 200/400.
	CodeMissingAccessToken = 99991661
	CodeInvalidAccessToken = 99991663
	CodeRateLimited        = 99991400

	DefaultPageSize = 20
)

const invalidTokenMessage = "Invalid access token"

type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string
	// TokenStorePath persists the tenant access token as JSON so restarts
	// reuse a still-valid token. Empty keeps it in memory only.
	TokenStorePath string
	HTTPClient     transport.HTTPDoer
}

func DefaultConfig() Config {
	return Config{BaseURL: BaseURL}
}

type Client struct {
	client *core.Client
}

// New wires a core client for Feishu. Options are applied after the
// provider defaults, so callers may replace the transport, logger or store.
func New(cfg Config, opts ...core.Option) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, goerrors.New("feishu: app_id and app_secret are required", goerrors.CategoryBadInput).
			WithTextCode(core.OutboundErrorConfigInvalid)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultConfig().BaseURL
	}

	rest := transport.NewRESTAdapter(cfg.HTTPClient)
	tokenExecutor := core.NewExecutor(rest,
		core.WithServiceName(ServiceName+".auth"),
		core.WithBaseURL(baseURL),
	)
	fetcher := auth.NewAppCredentialsFetcher(tokenExecutor, baseURL+TokenPath, cfg.AppID, cfg.AppSecret)

	options := []core.Option{
		core.WithTransport(rest),
		core.WithTokenFetcher(fetcher),
		core.WithSecrets(fetcher.Secrets()...),
		core.WithResponseClassifier(Classifier),
	}
	if path := strings.TrimSpace(cfg.TokenStorePath); path != "" {
		store, err := filestore.NewTokenStore(path)
		if err != nil {
			return nil, err
		}
		options = append(options, core.WithTokenPersistence(store, ServiceName))
	}
	options = append(options, opts...)

	client, err := core.NewClient(core.Config{ServiceName: ServiceName, BaseURL: baseURL}, options...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

// Classifier reads the {code, msg} pair Feishu puts in every body. A zero
// or missing code leaves the decision to the status code rules.
func Classifier(_ int, body any) (core.Outcome, bool) {
	payload, ok := body.(map[string]any)
	if !ok {
		return core.Outcome{}, false
	}
	code, ok := businessCode(payload["code"])
	if !ok || code == 0 {
		return core.Outcome{}, false
	}
	message, _ := payload["msg"].(string)
	switch {
	case code == CodeInvalidAccessToken, code == CodeMissingAccessToken,
		strings.Contains(message, invalidTokenMessage):
		return core.Outcome{Kind: core.FailureAuthExpired, Message: message}, true
	case code == CodeRateLimited:
		return core.Outcome{Kind: core.FailureTransient, Message: message}, true
	default:
		if message == "" {
			message = fmt.Sprintf("feishu error %d", code)
		}
		return core.Outcome{Kind: core.FailurePermanent, Code: code, Message: message}, true
	}
}

// SendText posts a plain text message to a user (open_id, "ou" prefix) or a
// chat (chat_id, "oc" prefix). Identical sends inside the idempotency window
// return the first result.
func (c *Client) SendText(ctx context.Context, receiveID string, text string) core.Envelope {
	receiveID = strings.TrimSpace(receiveID)
	receiveIDType, err := ReceiveIDType(receiveID)
	if err != nil {
		return core.Failure(core.CodeBadRequest, err.Error(), nil)
	}
	content, err := textContent(text)
	if err != nil {
		return core.Failure(core.CodeBadRequest, err.Error(), nil)
	}
	key := core.BuildIdempotencyKey("feishu.send_text", receiveID, text)
	return c.client.Execute(ctx, core.RequestSpec{
		Method: http.MethodPost,
		Target: "/im/v1/messages",
		Query:  map[string]string{"receive_id_type": receiveIDType},
		Body: map[string]any{
			"receive_id": receiveID,
			"msg_type":   "text",
			"content":    content,
			"uuid":       RequestUUID(key),
		},
		Operation:      "send_text",
		IdempotencyKey: key,
	})
}

// Reply answers an existing message in its thread.
func (c *Client) Reply(ctx context.Context, messageID string, text string) core.Envelope {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return core.Failure(core.CodeBadRequest, "feishu: message_id is required", nil)
	}
	content, err := textContent(text)
	if err != nil {
		return core.Failure(core.CodeBadRequest, err.Error(), nil)
	}
	key := core.BuildIdempotencyKey("feishu.reply", messageID, text)
	return c.client.Execute(ctx, core.RequestSpec{
		Method: http.MethodPost,
		Target: "/im/v1/messages/" + url.PathEscape(messageID) + "/reply",
		Body: map[string]any{
			"msg_type": "text",
			"content":  content,
			"uuid":     RequestUUID(key),
		},
		Operation:      "reply",
		IdempotencyKey: key,
	})
}

type ListMessagesRequest struct {
	ContainerID string
	// ContainerIDType defaults to "chat".
	ContainerIDType string
	Start           time.Time
	End             time.Time
	PageSize        int
	PageToken       string
}

// ListMessages reads the history of a container in creation order.
func (c *Client) ListMessages(ctx context.Context, req ListMessagesRequest) core.Envelope {
	containerID := strings.TrimSpace(req.ContainerID)
	if containerID == "" {
		return core.Failure(core.CodeBadRequest, "feishu: container_id is required", nil)
	}
	containerType := strings.TrimSpace(req.ContainerIDType)
	if containerType == "" {
		containerType = "chat"
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	query := map[string]string{
		"container_id":      containerID,
		"container_id_type": containerType,
		"page_size":         strconv.Itoa(pageSize),
		"sort_type":         "ByCreateTimeAsc",
	}
	if !req.Start.IsZero() {
		query["start_time"] = strconv.FormatInt(req.Start.Unix(), 10)
	}
	if !req.End.IsZero() {
		query["end_time"] = strconv.FormatInt(req.End.Unix(), 10)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		query["page_token"] = token
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    "/im/v1/messages",
		Query:     query,
		Operation: "list_messages",
	})
}

// TenantAccessToken returns the managed token envelope.
func (c *Client) TenantAccessToken(ctx context.Context) core.Envelope {
	return c.client.GetToken(ctx)
}

func (c *Client) Forget(key string) bool {
	return c.client.Forget(key)
}

func (c *Client) Core() *core.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func ReceiveIDType(receiveID string) (string, error) {
	switch {
	case strings.HasPrefix(receiveID, "ou"):
		return "open_id", nil
	case strings.HasPrefix(receiveID, "oc"):
		return "chat_id", nil
	default:
		return "", fmt.Errorf("feishu: cannot infer receive_id_type for %q", receiveID)
	}
}

// RequestUUID derives the Feishu dedup uuid from an idempotency key, so a
// retried send is also deduplicated server side.
func RequestUUID(idempotencyKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(idempotencyKey)).String()
}

func textContent(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("feishu: text is required")
	}
	encoded, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("feishu: encode content: %w", err)
	}
	return string(encoded), nil
}

func businessCode(raw any) (int, bool) {
	switch typed := raw.(type) {
	case json.Number:
		value, err := typed.Int64()
		return int(value), err == nil
	case float64:
		return int(typed), true
	case int:
		return typed, true
	default:
		return 0, false
	}
}
