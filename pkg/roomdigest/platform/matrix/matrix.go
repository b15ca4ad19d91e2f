// Package matrix implements the Matrix transport for roomdigest using the
// client-server API directly via HTTP — no external dependencies.
//
// Features:
//   - Send text messages (m.room.message / m.text)
//   - Upload media and send images or files (mxc content URIs)
//   - Reactions (m.reaction / m.annotation)
//   - Room history fetch with back-pagination (/messages)
//   - Joined-rooms listing for the scheduler
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
)

// Protocol is the protocol identifier used in the platform registry.
const Protocol = "matrix"

// Config holds Matrix transport configuration.
type Config struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g. "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// AccessToken authenticates the bot account.
	AccessToken string `yaml:"access_token"`

	// UserID is the bot's Matrix ID (e.g. "@digest:example.org").
	UserID string `yaml:"user_id"`

	// Name is the registry handle name. Defaults to "matrix".
	Name string `yaml:"name"`

	// PageLimit is the /messages page size. Defaults to 100.
	PageLimit int `yaml:"page_limit"`

	// MaxPages bounds back-pagination per fetch. Defaults to 50.
	MaxPages int `yaml:"max_pages"`
}

// Client talks to a Matrix homeserver. Implements platform.TextSender,
// platform.MediaSender, platform.Reactor and platform.HistoryFetcher.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	connected atomic.Bool
	txnSeq    atomic.Int64
}

// New creates a Matrix client from config.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "matrix"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.HomeserverURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "matrix"),
	}
}

// Name returns the registry handle name.
func (c *Client) Name() string { return c.cfg.Name }

// Protocol returns "matrix".
func (c *Client) Protocol() string { return Protocol }

// Connected reports whether the last whoami check succeeded.
func (c *Client) Connected() bool { return c.connected.Load() }

// Connect verifies the access token against /account/whoami.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		UserID string `json:"user_id"`
	}
	if err := c.get(ctx, "/_matrix/client/v3/account/whoami", nil, &resp); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("matrix: whoami failed: %w", err)
	}
	c.connected.Store(true)
	c.logger.Info("connected to homeserver", "user_id", resp.UserID)
	return nil
}

// Disconnect marks the client unusable. No server-side session to tear down.
func (c *Client) Disconnect() {
	c.connected.Store(false)
}

// SendText sends a plain-text message to a room.
func (c *Client) SendText(ctx context.Context, roomID, body string) error {
	content := map[string]any{
		"msgtype": "m.text",
		"body":    body,
	}
	return c.sendEvent(ctx, roomID, "m.room.message", content)
}

// UploadBinary uploads bytes to the media repository and returns the mxc URI.
func (c *Client) UploadBinary(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	endpoint := fmt.Sprintf("%s/_matrix/media/v3/upload?filename=%s", c.baseURL, url.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("matrix: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		ContentURI string `json:"content_uri"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("matrix: parsing upload response: %w", err)
	}
	if resp.ContentURI == "" {
		return "", fmt.Errorf("matrix: upload returned no content_uri")
	}

	c.logger.Debug("media uploaded", "bytes", len(data), "uri", resp.ContentURI)
	return resp.ContentURI, nil
}

// SendMedia sends previously uploaded content to a room. Image MIME types
// become m.image events, everything else m.file.
func (c *Client) SendMedia(ctx context.Context, roomID, contentRef, filename, mimeType string) error {
	msgtype := "m.file"
	if strings.HasPrefix(mimeType, "image/") {
		msgtype = "m.image"
	}
	content := map[string]any{
		"msgtype": msgtype,
		"body":    filename,
		"url":     contentRef,
		"info":    map[string]any{"mimetype": mimeType},
	}
	return c.sendEvent(ctx, roomID, "m.room.message", content)
}

// React sends an m.annotation reaction to an event.
func (c *Client) React(ctx context.Context, roomID, eventID, emoji string) error {
	content := map[string]any{
		"m.relates_to": map[string]any{
			"rel_type": "m.annotation",
			"event_id": eventID,
			"key":      emoji,
		},
	}
	return c.sendEvent(ctx, roomID, "m.reaction", content)
}

// JoinedRooms lists the room IDs the bot account has joined.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	var resp struct {
		JoinedRooms []string `json:"joined_rooms"`
	}
	if err := c.get(ctx, "/_matrix/client/v3/joined_rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("matrix: listing joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

// messagesResponse is the /messages pagination envelope.
type messagesResponse struct {
	Chunk []roomEvent `json:"chunk"`
	End   string      `json:"end"`
}

// roomEvent is the subset of a Matrix room event the analyzer needs.
type roomEvent struct {
	Type           string `json:"type"`
	Sender         string `json:"sender"`
	OriginServerTS int64  `json:"origin_server_ts"`
	Content        struct {
		MsgType   string `json:"msgtype"`
		Body      string `json:"body"`
		RelatesTo struct {
			RelType   string `json:"rel_type"`
			Key       string `json:"key"`
			InReplyTo *struct {
				EventID string `json:"event_id"`
			} `json:"m.in_reply_to"`
		} `json:"m.relates_to"`
	} `json:"content"`
}

// FetchMessages back-paginates a room's timeline until the window start,
// returning normalized messages oldest first.
func (c *Client) FetchMessages(ctx context.Context, roomID string, sinceDays int) ([]analysis.Message, error) {
	if sinceDays <= 0 {
		sinceDays = 1
	}
	cutoff := time.Now().AddDate(0, 0, -sinceDays)

	var collected []analysis.Message
	from := ""

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("dir", "b")
		params.Set("limit", fmt.Sprintf("%d", c.cfg.PageLimit))
		if from != "" {
			params.Set("from", from)
		}

		var resp messagesResponse
		path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID))
		if err := c.get(ctx, path, params, &resp); err != nil {
			return nil, fmt.Errorf("matrix: fetching messages: %w", err)
		}
		if len(resp.Chunk) == 0 {
			break
		}

		reachedCutoff := false
		for _, ev := range resp.Chunk {
			ts := time.UnixMilli(ev.OriginServerTS)
			if ts.Before(cutoff) {
				reachedCutoff = true
				break
			}
			if msg, ok := normalizeEvent(ev, ts); ok {
				collected = append(collected, msg)
			}
		}
		if reachedCutoff || resp.End == "" {
			break
		}
		from = resp.End
	}

	// /messages returns newest first; the analyzer wants oldest first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}

	c.logger.Debug("history fetched", "room", roomID, "messages", len(collected))
	return collected, nil
}

// normalizeEvent converts a room event into an analyzer message.
func normalizeEvent(ev roomEvent, ts time.Time) (analysis.Message, bool) {
	msg := analysis.Message{
		SenderID:    ev.Sender,
		DisplayName: localpart(ev.Sender),
		Timestamp:   ts,
	}

	switch ev.Type {
	case "m.room.message":
		switch ev.Content.MsgType {
		case "m.text", "m.notice", "m.emote":
			if ev.Content.RelatesTo.InReplyTo != nil {
				msg.Parts = append(msg.Parts, analysis.MessagePart{
					Kind:    analysis.PartReply,
					Payload: ev.Content.RelatesTo.InReplyTo.EventID,
				})
			}
			msg.Parts = append(msg.Parts, analysis.MessagePart{
				Kind:    analysis.PartText,
				Payload: ev.Content.Body,
			})
		case "m.image":
			msg.Parts = append(msg.Parts, analysis.MessagePart{
				Kind:    analysis.PartImage,
				Payload: ev.Content.Body,
			})
		default:
			return analysis.Message{}, false
		}
	case "m.reaction":
		msg.Parts = append(msg.Parts, analysis.MessagePart{
			Kind:    analysis.PartReaction,
			Payload: ev.Content.RelatesTo.Key,
		})
	default:
		return analysis.Message{}, false
	}

	return msg, true
}

// localpart extracts a readable name from an MXID ("@alice:host" -> "alice").
func localpart(mxid string) string {
	s := strings.TrimPrefix(mxid, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// ---------- HTTP plumbing ----------

// sendEvent PUTs an event with a fresh transaction ID.
func (c *Client) sendEvent(ctx context.Context, roomID, eventType string, content map[string]any) error {
	txnID := fmt.Sprintf("rd%d.%d", time.Now().UnixMilli(), c.txnSeq.Add(1))
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/%s/%s",
		c.baseURL, url.PathEscape(roomID), eventType, txnID)

	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("matrix: marshaling event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("matrix: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	if _, err := c.do(req); err != nil {
		return err
	}
	return nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// do executes a request and returns the body, mapping non-2xx to errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("matrix: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("matrix: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
