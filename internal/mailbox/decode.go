package mailbox

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

// header 按名称查找邮件头（大小写不敏感），不存在时返回空串
func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody returns the payload body, or the first text/plain part found
// depth-first.
func extractBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.Body != nil && part.Body.Data != "" && (len(part.Parts) == 0 || strings.HasPrefix(part.MimeType, "text/")) {
		return decodeData(part.Body.Data)
	}
	for _, p := range part.Parts {
		if p != nil && p.MimeType == "text/plain" && p.Body != nil && p.Body.Data != "" {
			return decodeData(p.Body.Data)
		}
	}
	for _, p := range part.Parts {
		if p != nil && strings.HasPrefix(p.MimeType, "multipart/") {
			if body := extractBody(p); body != "" {
				return body
			}
		}
	}
	return ""
}

func decodeData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}

// ParseDate parses an RFC 5322 Date header.
func ParseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toMessage(owner string, m *gmail.Message) *Message {
	out := &Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Owner:    owner,
		Snippet:  m.Snippet,
		Labels:   m.LabelIds,
	}
	if m.Payload != nil {
		out.Sender = header(m.Payload.Headers, "From")
		out.To = header(m.Payload.Headers, "To")
		out.Subject = header(m.Payload.Headers, "Subject")
		out.Date = header(m.Payload.Headers, "Date")
	}
	return out
}
