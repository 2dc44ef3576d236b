package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/models"
)

// BridgeClient reads WhatsApp chats from an Evolution-style bridge.
type BridgeClient struct {
	instance string
	apiKey   string
	pageSize int
	timeout  time.Duration
	http     *resty.Client
}

func NewBridgeClient(cc config.ChannelConfig, timeout time.Duration) *BridgeClient {
	pageSize := cc.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &BridgeClient{
		instance: cc.Instance,
		apiKey:   cc.AccessToken,
		pageSize: pageSize,
		timeout:  timeout,
		http:     newRestyClient(cc.BaseURL, timeout),
	}
}

type bridgeChat struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	PushName  string `json:"pushName"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updatedAt"`
}

type bridgeErrorBody struct {
	Status   int `json:"status"`
	Response struct {
		Message json.RawMessage `json:"message"`
	} `json:"response"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *BridgeClient) post(ctx context.Context, operation, path string, body any) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		countError(models.ChannelWhatsApp, operation)
		return nil, fmt.Errorf("whatsapp %s request: %w", operation, err)
	}
	if resp.IsError() {
		countError(models.ChannelWhatsApp, operation)
		apiErr := &APIError{Channel: models.ChannelWhatsApp, Operation: operation, StatusCode: resp.StatusCode()}
		var eb bridgeErrorBody
		if json.Unmarshal(resp.Body(), &eb) == nil {
			apiErr.Message = strings.TrimSpace(firstOf(eb.Error, eb.Message, string(eb.Response.Message)))
		}
		return nil, apiErr
	}
	return resp.Body(), nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (c *BridgeClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	raw, err := c.post(ctx, "list_conversations", "/chat/findChats/"+c.instance, map[string]any{})
	if err != nil {
		return nil, err
	}
	var chats []bridgeChat
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, &APIError{Channel: models.ChannelWhatsApp, Operation: "list_conversations", Message: "decode: " + err.Error()}
	}

	out := make([]Conversation, 0, len(chats))
	for _, chat := range chats {
		jid := firstOf(chat.RemoteJID, chat.ID)
		if jid == "" || strings.HasSuffix(jid, "@g.us") || jid == "status@broadcast" {
			continue
		}
		conv := Conversation{
			ID:           jid,
			Participants: []Participant{{ID: channel.JIDUser(jid), Name: firstOf(chat.PushName, chat.Name)}},
		}
		if t, err := time.Parse(time.RFC3339, chat.UpdatedAt); err == nil {
			conv.UpdatedAt = t.UTC()
		}
		out = append(out, conv)
		if len(out) == c.pageSize {
			break
		}
	}
	return out, nil
}

func (c *BridgeClient) ListMessages(ctx context.Context, conv Conversation) ([]json.RawMessage, error) {
	body := map[string]any{
		"where": map[string]any{"key": map[string]any{"remoteJid": conv.ID}},
		"limit": c.pageSize,
	}
	raw, err := c.post(ctx, "list_messages", "/chat/findMessages/"+c.instance, body)
	if err != nil {
		return nil, err
	}
	items, err := decodeBridgeMessages(raw)
	if err != nil {
		return nil, &APIError{Channel: models.ChannelWhatsApp, Operation: "list_messages", Message: "decode: " + err.Error()}
	}
	if len(items) > c.pageSize {
		items = items[:c.pageSize]
	}
	return items, nil
}

// decodeBridgeMessages accepts both the bare array returned by older bridge
// versions and the paged {messages:{records:[...]}} shape.
func decodeBridgeMessages(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &items)
		return items, err
	}
	var paged struct {
		Messages struct {
			Records []json.RawMessage `json:"records"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &paged); err != nil {
		return nil, err
	}
	return paged.Messages.Records, nil
}
