package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unihub-app/unihub/backend/internal/models"
)

// StatusError is returned for non-2xx responses so callers can distinguish
// authorization denials from transient failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase error (status %d): %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is a permission denial from the backing
// store's access policy. Auth errors are never retried.
func IsAuthError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// Client is a wrapper around the Supabase REST, storage and auth APIs.
// It uses the service role key for backend operations with elevated
// privileges. The http.Client is injected so the call-rate governor's
// transport wraps exactly this client and nothing else.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Supabase client. If httpClient is nil a default
// client with a generous timeout is used; backing-store calls are slow-path
// operations and should not fail on brief stalls.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// doRequest executes an HTTP request against the Supabase REST API.
// It adds authentication headers and decodes error responses.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, extraHeaders map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// ListMessages retrieves the visible messages for one scope in ascending
// timestamp order. Moderation-hidden rows are excluded at the query level so
// they are never delivered to new subscribers.
func (c *Client) ListMessages(ctx context.Context, scope models.Scope, limit int) ([]models.Message, error) {
	endpoint := fmt.Sprintf("messages?%s&deleted=is.false&reported=is.false&select=*&order=created_at.asc", scope.Filter())
	if limit > 0 {
		endpoint += fmt.Sprintf("&limit=%d", limit)
	}
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var msgs []models.Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	return msgs, nil
}

// InsertMessage writes a message row and returns the persisted row with its
// server-assigned id and timestamp.
func (c *Client) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	row := map[string]interface{}{
		scopeColumn(msg): scopeValue(msg),
		"author_id":      msg.AuthorID,
		"author_name":    msg.AuthorName,
		"author_handle":  msg.AuthorHandle,
		"author_avatar":  msg.AuthorAvatar,
		"kind":           msg.Kind,
		"body":           msg.Body,
	}
	if msg.ReplyTo != "" {
		row["reply_to"] = msg.ReplyTo
	}
	if msg.FileURL != "" {
		row["file_url"] = msg.FileURL
		row["file_name"] = msg.FileName
		row["file_size"] = msg.FileSize
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "messages", row, nil)
	if err != nil {
		return models.Message{}, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return models.Message{}, fmt.Errorf("failed to parse inserted message: %w", err)
	}
	if len(rows) == 0 {
		return models.Message{}, fmt.Errorf("insert returned no row")
	}
	return rows[0], nil
}

// UpdateMessage patches a message row, e.g. for edits or moderation flags.
func (c *Client) UpdateMessage(ctx context.Context, id string, patch map[string]interface{}) error {
	endpoint := fmt.Sprintf("messages?id=eq.%s", url.QueryEscape(id))
	_, err := c.doRequest(ctx, http.MethodPatch, endpoint, patch, nil)
	return err
}

// GetProfile retrieves one author profile for change-event enrichment.
func (c *Client) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	endpoint := fmt.Sprintf("profiles?id=eq.%s&select=*", url.QueryEscape(userID))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return models.Profile{}, err
	}

	var profiles []models.Profile
	if err := json.Unmarshal(respBody, &profiles); err != nil {
		return models.Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(profiles) == 0 {
		return models.Profile{}, fmt.Errorf("profile not found: %s", userID)
	}
	return profiles[0], nil
}

// InsertReadReceipts bulk-inserts read receipts. Duplicate (message, user)
// pairs are ignored server-side, which makes marking reads idempotent.
func (c *Client) InsertReadReceipts(ctx context.Context, receipts []models.ReadReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	headers := map[string]string{
		"Prefer": "resolution=ignore-duplicates,return=minimal",
	}
	_, err := c.doRequest(ctx, http.MethodPost, "read_receipts?on_conflict=message_id,user_id", receipts, headers)
	return err
}

// ListReadReceipts retrieves a user's receipts for the given message ids.
func (c *Client) ListReadReceipts(ctx context.Context, userID string, messageIDs []string) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("read_receipts?user_id=eq.%s&message_id=in.(%s)&select=*",
		url.QueryEscape(userID), strings.Join(messageIDs, ","))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var receipts []models.ReadReceipt
	if err := json.Unmarshal(respBody, &receipts); err != nil {
		return nil, fmt.Errorf("failed to parse read receipts: %w", err)
	}
	return receipts, nil
}

// Ping issues a trivial read against the backing store. Used by the health
// controller's periodic probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "messages?select=id&limit=1", nil, nil)
	return err
}

// UploadAttachment stores file bytes in the given bucket and returns the
// public URL for embedding in a file-kind message.
func (c *Client) UploadAttachment(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, path), nil
}

// GetSession resolves a user access token to the authenticated identity.
// Returns nil when the token does not map to a session.
func (c *Client) GetSession(ctx context.Context, accessToken string) (*models.Identity, error) {
	u := fmt.Sprintf("%s/auth/v1/user", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var ident models.Identity
	if err := json.Unmarshal(body, &ident); err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}
	return &ident, nil
}

func scopeColumn(msg models.Message) string {
	if msg.DMKey != "" {
		return "dm_key"
	}
	return "group_id"
}

func scopeValue(msg models.Message) string {
	if msg.DMKey != "" {
		return msg.DMKey
	}
	return msg.GroupID
}
