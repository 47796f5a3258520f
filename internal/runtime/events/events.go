// Package events provides typed projections of the generic event Context.
// Every constructor is a pure function over the decoded payload: absent or
// wrong-typed JSON fields yield zero values, never errors, so a handler can
// rely on a model existing even for malformed platform input.
package events

import (
	"strconv"

	envelopepkg "github.com/drblury/larkflow/internal/runtime/envelope"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

// Event types with first-class typed models.
const (
	TypeMessageReceive       = "im.message.receive_v1"
	TypeBotMenu              = "application.bot.menu_v6"
	TypeCardAction           = "card.action.trigger"
	TypeURLPreview           = "url.preview.get"
	TypeBitableRecordChanged = "drive.file.bitable_record_changed_v1"
	TypeBitableFieldChanged  = "drive.file.bitable_field_changed_v1"
)

// Mention is a user reference embedded in a received message.
type Mention struct {
	Key     string
	Name    string
	OpenID  string
	UserID  string
	UnionID string
}

// MessageReceive models the im.message.receive_v1 event.
type MessageReceive struct {
	EventID       string
	CreateTime    string
	TenantKey     string
	AppID         string
	MessageID     string
	ChatID        string
	ChatType      string
	MessageType   string
	Content       string
	Text          string
	SenderOpenID  string
	SenderUserID  string
	SenderUnionID string
	Mentions      []Mention
	Raw           map[string]any
}

// NewMessageReceive projects a message-received event from the context.
func NewMessageReceive(c *envelopepkg.Context) MessageReceive {
	message := mapValue(c.Event, "message")
	sender := mapValue(c.Event, "sender")
	senderID := mapValue(sender, "sender_id")
	content := stringValue(message, "content")

	m := MessageReceive{
		EventID:       c.Envelope.EventID,
		CreateTime:    c.Envelope.CreateTime,
		TenantKey:     c.Envelope.TenantKey,
		AppID:         c.Envelope.AppID,
		MessageID:     stringValue(message, "message_id"),
		ChatID:        stringValue(message, "chat_id"),
		ChatType:      stringValue(message, "chat_type"),
		MessageType:   stringValue(message, "message_type"),
		Content:       content,
		Text:          extractText(content),
		SenderOpenID:  stringValue(senderID, "open_id"),
		SenderUserID:  stringValue(senderID, "user_id"),
		SenderUnionID: stringValue(senderID, "union_id"),
		Raw:           c.Payload,
	}

	for _, raw := range mapSlice(message, "mentions") {
		id := mapValue(raw, "id")
		m.Mentions = append(m.Mentions, Mention{
			Key:     stringValue(raw, "key"),
			Name:    stringValue(raw, "name"),
			OpenID:  stringValue(id, "open_id"),
			UserID:  stringValue(id, "user_id"),
			UnionID: stringValue(id, "union_id"),
		})
	}
	return m
}

// ParsedContent parses the message content body according to MessageType.
func (m MessageReceive) ParsedContent() Content {
	return ParseContent(m.MessageType, m.Content)
}

// BotMenu models the application.bot.menu_v6 event.
type BotMenu struct {
	EventID         string
	CreateTime      string
	TenantKey       string
	AppID           string
	EventKey        string
	OperatorOpenID  string
	OperatorUserID  string
	OperatorUnionID string
	Raw             map[string]any
}

// NewBotMenu projects a bot-menu event from the context.
func NewBotMenu(c *envelopepkg.Context) BotMenu {
	operator := mapValue(c.Event, "operator")
	return BotMenu{
		EventID:         c.Envelope.EventID,
		CreateTime:      c.Envelope.CreateTime,
		TenantKey:       c.Envelope.TenantKey,
		AppID:           c.Envelope.AppID,
		EventKey:        stringValue(c.Event, "event_key"),
		OperatorOpenID:  stringValue(operator, "open_id"),
		OperatorUserID:  stringValue(operator, "user_id"),
		OperatorUnionID: stringValue(operator, "union_id"),
		Raw:             c.Payload,
	}
}

// CardAction models the card.action.trigger callback event.
type CardAction struct {
	EventID     string
	TenantKey   string
	AppID       string
	OpenID      string
	UserID      string
	ActionTag   string
	ActionValue map[string]any
	Raw         map[string]any
}

// NewCardAction projects a card-action callback from the context.
func NewCardAction(c *envelopepkg.Context) CardAction {
	operator := mapValue(c.Event, "operator")
	action := mapValue(c.Event, "action")
	return CardAction{
		EventID:     c.Envelope.EventID,
		TenantKey:   c.Envelope.TenantKey,
		AppID:       c.Envelope.AppID,
		OpenID:      stringValue(operator, "open_id"),
		UserID:      stringValue(operator, "user_id"),
		ActionTag:   stringValue(action, "tag"),
		ActionValue: mapValue(action, "value"),
		Raw:         c.Payload,
	}
}

// URLPreview models the url.preview.get callback event.
type URLPreview struct {
	EventID       string
	TenantKey     string
	AppID         string
	OpenID        string
	UserID        string
	URL           string
	PreviewToken  string
	OpenChatID    string
	OpenMessageID string
	Raw           map[string]any
}

// NewURLPreview projects a url-preview callback from the context.
func NewURLPreview(c *envelopepkg.Context) URLPreview {
	operator := mapValue(c.Event, "operator")
	details := mapValue(c.Event, "context")
	return URLPreview{
		EventID:       c.Envelope.EventID,
		TenantKey:     c.Envelope.TenantKey,
		AppID:         c.Envelope.AppID,
		OpenID:        stringValue(operator, "open_id"),
		UserID:        stringValue(operator, "user_id"),
		URL:           stringValue(details, "url"),
		PreviewToken:  stringValue(details, "preview_token"),
		OpenChatID:    stringValue(details, "open_chat_id"),
		OpenMessageID: stringValue(details, "open_message_id"),
		Raw:           c.Payload,
	}
}

// BitableChange models the drive.file.bitable_record_changed_v1 and
// drive.file.bitable_field_changed_v1 events, which share a body shape.
type BitableChange struct {
	EventID          string
	CreateTime       string
	TenantKey        string
	AppID            string
	FileType         string
	FileToken        string
	TableID          string
	Revision         int64
	OperatorOpenID   string
	OperatorUserID   string
	OperatorUnionID  string
	ActionList       []map[string]any
	SubscriberIDList []map[string]any
	UpdateTime       int64
	Raw              map[string]any
}

// NewBitableChange projects a table record/field change from the context.
func NewBitableChange(c *envelopepkg.Context) BitableChange {
	operator := mapValue(c.Event, "operator_id")
	return BitableChange{
		EventID:          c.Envelope.EventID,
		CreateTime:       c.Envelope.CreateTime,
		TenantKey:        c.Envelope.TenantKey,
		AppID:            c.Envelope.AppID,
		FileType:         stringValue(c.Event, "file_type"),
		FileToken:        stringValue(c.Event, "file_token"),
		TableID:          stringValue(c.Event, "table_id"),
		Revision:         int64Value(c.Event, "revision"),
		OperatorOpenID:   stringValue(operator, "open_id"),
		OperatorUserID:   stringValue(operator, "user_id"),
		OperatorUnionID:  stringValue(operator, "union_id"),
		ActionList:       mapSlice(c.Event, "action_list"),
		SubscriberIDList: mapSlice(c.Event, "subscriber_id_list"),
		UpdateTime:       int64Value(c.Event, "update_time"),
		Raw:              c.Payload,
	}
}

// Customized models a first-generation (p1) event of any type.
type Customized struct {
	EventType string
	EventID   string
	Token     string
	TenantKey string
	AppID     string
	Ts        string
	Event     map[string]any
	Raw       map[string]any
}

// NewCustomized projects a p1 event from the context.
func NewCustomized(c *envelopepkg.Context) Customized {
	return Customized{
		EventType: c.Envelope.EventType,
		EventID:   c.Envelope.EventID,
		Token:     c.Envelope.Token,
		TenantKey: c.Envelope.TenantKey,
		AppID:     c.Envelope.AppID,
		Ts:        c.Envelope.CreateTime,
		Event:     c.Event,
		Raw:       c.Payload,
	}
}

func extractText(content string) string {
	if content == "" {
		return ""
	}
	var parsed map[string]any
	if err := jsoncodec.UnmarshalString(content, &parsed); err != nil {
		return ""
	}
	return stringValue(parsed, "text")
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func int64Value(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func mapValue(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func mapSlice(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	list, _ := m[key].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

func stringSlice(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	list, _ := m[key].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}
