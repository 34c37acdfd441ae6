package ws

// 客户端 <-> 服务端 WebSocket 消息类型
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeNewMessages = "new_messages"
	TypeBroadcast   = "broadcast"
)

// AuthRequest 客户端认证消息。优先使用 Token，Email 仅在未配置 JWT 时接受。
type AuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Email string `json:"email,omitempty"`
}

// AuthReply 认证结果
type AuthReply struct {
	Type    string `json:"type"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewMessage 推送给客户端的一封新邮件
type NewMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet"`
	Date      string    `json:"date"`
	LabelIDs  []string  `json:"labelIds,omitempty"`
	IsNew     bool      `json:"isNew"`
	Relevance Relevance `json:"relevance"`
	Category  *Category `json:"category,omitempty"`
}

// Relevance 关键词评分结果
type Relevance struct {
	Score        int      `json:"score"`
	IsJobRelated bool     `json:"isJobRelated"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
}

// Category AI 分类结果，Error 非空表示分类失败后的默认值
type Category struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	Company      *string `json:"company"`
	ActionNeeded *string `json:"actionNeeded"`
	Error        string  `json:"error,omitempty"`
}

// NewMessagesPayload 变更通知处理后推送的消息
type NewMessagesPayload struct {
	Type     string       `json:"type"`
	Messages []NewMessage `json:"messages"`
	Count    int          `json:"count"`
}

func NewMessages(msgs []NewMessage) NewMessagesPayload {
	return NewMessagesPayload{Type: TypeNewMessages, Messages: msgs, Count: len(msgs)}
}

// BroadcastPayload 管理员广播
type BroadcastPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
