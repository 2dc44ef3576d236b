package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/models"
)

const (
	DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"
	defaultPageSize     = 25

	graphConversationFields = "participants,updated_time"
	graphMessageFields      = "id,message,from,to,created_time,attachments"
)

// GraphClient reads Messenger and Instagram conversations through the Graph API.
type GraphClient struct {
	channel     models.Channel
	accountID   string
	accessToken string
	pageSize    int
	timeout     time.Duration
	http        *resty.Client
}

func NewGraphClient(ch models.Channel, cc config.ChannelConfig, timeout time.Duration) *GraphClient {
	baseURL := cc.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGraphBaseURL
	}
	pageSize := cc.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &GraphClient{
		channel:     ch,
		accountID:   cc.AccountID,
		accessToken: cc.AccessToken,
		pageSize:    pageSize,
		timeout:     timeout,
		http:        newRestyClient(baseURL, timeout),
	}
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type graphEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *graphError     `json:"error"`
}

type graphConversation struct {
	ID           string `json:"id"`
	UpdatedTime  string `json:"updated_time"`
	Participants struct {
		Data []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	} `json:"participants"`
}

func (c *GraphClient) get(ctx context.Context, operation, path string, query map[string]string) (json.RawMessage, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	var body graphEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetQueryParam("limit", strconv.Itoa(c.pageSize)).
		SetQueryParam("access_token", c.accessToken).
		SetResult(&body).
		SetError(&body).
		Get(path)
	if err != nil {
		countError(c.channel, operation)
		return nil, fmt.Errorf("%s %s request: %w", c.channel, operation, err)
	}
	if body.Error != nil || resp.IsError() {
		countError(c.channel, operation)
		apiErr := &APIError{Channel: c.channel, Operation: operation, StatusCode: resp.StatusCode()}
		if body.Error != nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		}
		return nil, apiErr
	}
	return body.Data, nil
}

func (c *GraphClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.get(ctx, "list_conversations", "/"+c.accountID+"/conversations", map[string]string{
		"platform": string(c.channel),
		"fields":   graphConversationFields,
	})
	if err != nil {
		return nil, err
	}

	var items []graphConversation
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &APIError{Channel: c.channel, Operation: "list_conversations", Message: "decode: " + err.Error()}
		}
	}

	out := make([]Conversation, 0, len(items))
	for _, it := range items {
		conv := Conversation{ID: it.ID}
		if t, err := time.Parse("2006-01-02T15:04:05-0700", it.UpdatedTime); err == nil {
			conv.UpdatedAt = t.UTC()
		}
		for _, p := range it.Participants.Data {
			name := p.Name
			if name == "" {
				name = p.Username
			}
			conv.Participants = append(conv.Participants, Participant{ID: p.ID, Name: name})
		}
		out = append(out, conv)
	}
	return out, nil
}

func (c *GraphClient) ListMessages(ctx context.Context, conv Conversation) ([]json.RawMessage, error) {
	data, err := c.get(ctx, "list_messages", "/"+conv.ID+"/messages", map[string]string{
		"fields": graphMessageFields,
	})
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &APIError{Channel: c.channel, Operation: "list_messages", Message: "decode: " + err.Error()}
		}
	}
	return items, nil
}
