package events

import (
	"strings"

	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

// Content is the parsed body of a received message. The concrete type is
// selected by the message_type field; unrecognized types and unparseable
// bodies fall back to UnknownContent rather than failing the event.
type Content interface {
	ContentType() string
}

// TextContent is a plain text message body.
type TextContent struct {
	Text string
	Raw  map[string]any
}

// PostContent is a rich-text post. Localized posts keep the chosen locale
// and the full per-locale payloads.
type PostContent struct {
	Title   string
	Lines   [][]map[string]any
	Locale  string
	Locales map[string]map[string]any
	Raw     map[string]any
}

// ImageContent is an image message body.
type ImageContent struct {
	ImageKey string
	Raw      map[string]any
}

// FileContent is a file attachment body.
type FileContent struct {
	FileKey  string
	FileName string
	Raw      map[string]any
}

// FolderContent is a shared-folder body.
type FolderContent struct {
	FileKey  string
	FileName string
	Raw      map[string]any
}

// AudioContent is a voice message body.
type AudioContent struct {
	FileKey  string
	Duration int64
	Raw      map[string]any
}

// MediaContent is a video message body.
type MediaContent struct {
	FileKey  string
	ImageKey string
	FileName string
	Duration int64
	Raw      map[string]any
}

// StickerContent is a sticker body.
type StickerContent struct {
	FileKey string
	Raw     map[string]any
}

// InteractiveContent is an interactive-card body.
type InteractiveContent struct {
	Title    string
	Elements [][]map[string]any
	Raw      map[string]any
}

// HongbaoContent is a red-packet notice body.
type HongbaoContent struct {
	Text string
	Raw  map[string]any
}

// CalendarContent covers the calendar share variants
// (share_calendar_event, calendar, general_calendar).
type CalendarContent struct {
	Type      string
	Summary   string
	StartTime string
	EndTime   string
	Raw       map[string]any
}

// ShareChatContent is a shared-chat card body.
type ShareChatContent struct {
	ChatID string
	Raw    map[string]any
}

// ShareUserContent is a shared-contact card body.
type ShareUserContent struct {
	UserID string
	Raw    map[string]any
}

// SystemContent is a system notice body.
type SystemContent struct {
	Template    string
	FromUser    []string
	ToChatters  []string
	DividerText map[string]any
	Raw         map[string]any
}

// LocationContent is a location share body.
type LocationContent struct {
	Name      string
	Longitude string
	Latitude  string
	Raw       map[string]any
}

// VideoChatContent is a video-meeting share body.
type VideoChatContent struct {
	Topic     string
	StartTime string
	Raw       map[string]any
}

// TodoContent is a task share body.
type TodoContent struct {
	TaskID  string
	Summary map[string]any
	DueTime string
	Raw     map[string]any
}

// VoteContent is a poll body.
type VoteContent struct {
	Topic   string
	Options []string
	Raw     map[string]any
}

// MergeForwardContent is a merged-and-forwarded conversation body.
type MergeForwardContent struct {
	Content string
	Raw     map[string]any
}

// UnknownContent carries the raw body of an unrecognized or unparseable
// message type together with the parse error, if any.
type UnknownContent struct {
	Type       string
	ContentRaw string
	Raw        map[string]any
	ParseError string
}

func (TextContent) ContentType() string         { return "text" }
func (PostContent) ContentType() string         { return "post" }
func (ImageContent) ContentType() string        { return "image" }
func (FileContent) ContentType() string         { return "file" }
func (FolderContent) ContentType() string       { return "folder" }
func (AudioContent) ContentType() string        { return "audio" }
func (MediaContent) ContentType() string        { return "media" }
func (StickerContent) ContentType() string      { return "sticker" }
func (InteractiveContent) ContentType() string  { return "interactive" }
func (HongbaoContent) ContentType() string      { return "hongbao" }
func (c CalendarContent) ContentType() string   { return c.Type }
func (ShareChatContent) ContentType() string    { return "share_chat" }
func (ShareUserContent) ContentType() string    { return "share_user" }
func (SystemContent) ContentType() string       { return "system" }
func (LocationContent) ContentType() string     { return "location" }
func (VideoChatContent) ContentType() string    { return "video_chat" }
func (TodoContent) ContentType() string         { return "todo" }
func (VoteContent) ContentType() string         { return "vote" }
func (MergeForwardContent) ContentType() string { return "merge_forward" }
func (c UnknownContent) ContentType() string    { return c.Type }

var contentParsers = map[string]func(typ string, raw map[string]any) Content{
	"text":                 parseTextContent,
	"post":                 parsePostContent,
	"image":                parseImageContent,
	"file":                 parseFileContent,
	"folder":               parseFolderContent,
	"audio":                parseAudioContent,
	"media":                parseMediaContent,
	"sticker":              parseStickerContent,
	"interactive":          parseInteractiveContent,
	"hongbao":              parseHongbaoContent,
	"share_calendar_event": parseCalendarContent,
	"calendar":             parseCalendarContent,
	"general_calendar":     parseCalendarContent,
	"share_chat":           parseShareChatContent,
	"share_user":           parseShareUserContent,
	"system":               parseSystemContent,
	"location":             parseLocationContent,
	"video_chat":           parseVideoChatContent,
	"todo":                 parseTodoContent,
	"vote":                 parseVoteContent,
	"merge_forward":        parseMergeForwardContent,
}

// ParseContent parses a message content string according to its declared
// message type. It never fails: unknown types and broken JSON both yield
// UnknownContent.
func ParseContent(messageType, contentRaw string) Content {
	normalized := strings.ToLower(strings.TrimSpace(messageType))

	raw, parseErr := decodeContentObject(contentRaw)
	parser, ok := contentParsers[normalized]
	if !ok {
		if normalized == "" {
			normalized = "unknown"
		}
		return UnknownContent{Type: normalized, ContentRaw: contentRaw, Raw: raw, ParseError: parseErr}
	}
	if parseErr != "" {
		return UnknownContent{Type: normalized, ContentRaw: contentRaw, Raw: raw, ParseError: parseErr}
	}
	return parser(normalized, raw)
}

// Text returns the human-readable text of a parsed content when the variant
// carries one.
func Text(content Content) string {
	switch c := content.(type) {
	case TextContent:
		return c.Text
	case HongbaoContent:
		return c.Text
	default:
		return ""
	}
}

func decodeContentObject(contentRaw string) (map[string]any, string) {
	if contentRaw == "" {
		return map[string]any{}, ""
	}
	var decoded any
	if err := jsoncodec.UnmarshalString(contentRaw, &decoded); err != nil {
		return map[string]any{}, err.Error()
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return map[string]any{}, "content is not a JSON object"
	}
	return obj, ""
}

func parseTextContent(_ string, raw map[string]any) Content {
	return TextContent{Text: stringValue(raw, "text"), Raw: raw}
}

func parsePostContent(_ string, raw map[string]any) Content {
	if lines := postLines(raw, "content"); len(lines) > 0 {
		return PostContent{Title: stringValue(raw, "title"), Lines: lines, Raw: raw}
	}

	locales := map[string]map[string]any{}
	for key, value := range raw {
		payload, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := payload["content"].([]any); ok {
			locales[key] = payload
		}
	}
	if len(locales) == 0 {
		return PostContent{Raw: raw}
	}

	locale := firstLocale(locales)
	payload := locales[locale]
	return PostContent{
		Title:   stringValue(payload, "title"),
		Lines:   postLines(payload, "content"),
		Locale:  locale,
		Locales: locales,
		Raw:     raw,
	}
}

func parseImageContent(_ string, raw map[string]any) Content {
	return ImageContent{ImageKey: stringValue(raw, "image_key"), Raw: raw}
}

func parseFileContent(_ string, raw map[string]any) Content {
	return FileContent{FileKey: stringValue(raw, "file_key"), FileName: stringValue(raw, "file_name"), Raw: raw}
}

func parseFolderContent(_ string, raw map[string]any) Content {
	return FolderContent{FileKey: stringValue(raw, "file_key"), FileName: stringValue(raw, "file_name"), Raw: raw}
}

func parseAudioContent(_ string, raw map[string]any) Content {
	return AudioContent{FileKey: stringValue(raw, "file_key"), Duration: int64Value(raw, "duration"), Raw: raw}
}

func parseMediaContent(_ string, raw map[string]any) Content {
	return MediaContent{
		FileKey:  stringValue(raw, "file_key"),
		ImageKey: stringValue(raw, "image_key"),
		FileName: stringValue(raw, "file_name"),
		Duration: int64Value(raw, "duration"),
		Raw:      raw,
	}
}

func parseStickerContent(_ string, raw map[string]any) Content {
	return StickerContent{FileKey: stringValue(raw, "file_key"), Raw: raw}
}

func parseInteractiveContent(_ string, raw map[string]any) Content {
	return InteractiveContent{Title: stringValue(raw, "title"), Elements: postLines(raw, "elements"), Raw: raw}
}

func parseHongbaoContent(_ string, raw map[string]any) Content {
	return HongbaoContent{Text: stringValue(raw, "text"), Raw: raw}
}

func parseCalendarContent(typ string, raw map[string]any) Content {
	return CalendarContent{
		Type:      typ,
		Summary:   stringValue(raw, "summary"),
		StartTime: stringValue(raw, "start_time"),
		EndTime:   stringValue(raw, "end_time"),
		Raw:       raw,
	}
}

func parseShareChatContent(_ string, raw map[string]any) Content {
	return ShareChatContent{ChatID: stringValue(raw, "chat_id"), Raw: raw}
}

func parseShareUserContent(_ string, raw map[string]any) Content {
	return ShareUserContent{UserID: stringValue(raw, "user_id"), Raw: raw}
}

func parseSystemContent(_ string, raw map[string]any) Content {
	return SystemContent{
		Template:    stringValue(raw, "template"),
		FromUser:    stringSlice(raw, "from_user"),
		ToChatters:  stringSlice(raw, "to_chatters"),
		DividerText: mapValue(raw, "divider_text"),
		Raw:         raw,
	}
}

func parseLocationContent(_ string, raw map[string]any) Content {
	return LocationContent{
		Name:      stringValue(raw, "name"),
		Longitude: stringValue(raw, "longitude"),
		Latitude:  stringValue(raw, "latitude"),
		Raw:       raw,
	}
}

func parseVideoChatContent(_ string, raw map[string]any) Content {
	return VideoChatContent{Topic: stringValue(raw, "topic"), StartTime: stringValue(raw, "start_time"), Raw: raw}
}

func parseTodoContent(_ string, raw map[string]any) Content {
	return TodoContent{
		TaskID:  stringValue(raw, "task_id"),
		Summary: mapValue(raw, "summary"),
		DueTime: stringValue(raw, "due_time"),
		Raw:     raw,
	}
}

func parseVoteContent(_ string, raw map[string]any) Content {
	return VoteContent{Topic: stringValue(raw, "topic"), Options: stringSlice(raw, "options"), Raw: raw}
}

func parseMergeForwardContent(_ string, raw map[string]any) Content {
	return MergeForwardContent{Content: stringValue(raw, "content"), Raw: raw}
}

func postLines(m map[string]any, key string) [][]map[string]any {
	list, _ := m[key].([]any)
	if len(list) == 0 {
		return nil
	}
	lines := make([][]map[string]any, 0, len(list))
	for _, entry := range list {
		line, ok := entry.([]any)
		if !ok {
			continue
		}
		nodes := make([]map[string]any, 0, len(line))
		for _, node := range line {
			if obj, ok := node.(map[string]any); ok {
				nodes = append(nodes, obj)
			}
		}
		lines = append(lines, nodes)
	}
	return lines
}

func firstLocale(locales map[string]map[string]any) string {
	first := ""
	for key := range locales {
		if first == "" || key < first {
			first = key
		}
	}
	return first
}
