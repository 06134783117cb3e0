package model

import "time"

// VisitorMessage 访客通过聊天组件发送的消息
type VisitorMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"shop_id"`
	VisitorID string    `json:"visitor_id"`
	Content   string    `json:"content"`
	IP        string    `json:"ip"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}
