package handler

import (
	"bytes"
	"html/template"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ElonQian1/QuickTalk--sub006/internal/middleware"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/logger"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

const (
	maxMessageBytes = 4096
	wsReadLimit     = 64 * 1024
	wsIdleTimeout   = 2 * time.Minute
	wsWriteTimeout  = 10 * time.Second
)

// 来源已经由网关校验过，这里不再重复检查 Origin
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// html/template 按上下文转义：脚本内按 JS 字符串，src 按 URL 属性
var embedTemplate = template.Must(template.New("embed").Parse(`<script>
  window.QuickTalkConfig = {
    shopId: "{{.ShopID}}",
    shopName: "{{.ShopName}}",
    serverUrl: "{{.ServerURL}}",
    position: "{{.Position}}"
  };
</script>
<script async src="{{.ServerURL}}/static/embed/widget.js"></script>
`))

// 未配置 public_url 时 Host 来自客户端，只接受 hostname[:port] 或 [ipv6][:port]
var hostPattern = regexp.MustCompile(`^([A-Za-z0-9.-]+|\[[0-9A-Fa-f:.]+\])(:[0-9]{1,5})?$`)

// ClientHandler 聊天组件调用的业务接口，全部位于准入网关之后
type ClientHandler struct {
	sink      service.MessageSink
	publicURL string
	now       func() time.Time
}

func NewClientHandler(sink service.MessageSink, publicURL string) *ClientHandler {
	return &ClientHandler{
		sink:      sink,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

type clientShop struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Domain string             `json:"domain"`
	Status model.TenantStatus `json:"status"`
}

func toClientShop(t *model.Tenant) *clientShop {
	if t == nil {
		return nil
	}
	return &clientShop{ID: t.ID, Name: t.Name, Domain: t.DomainPattern, Status: t.Status}
}

// Config returns the widget bootstrap payload.
func (h *ClientHandler) Config(c *gin.Context) {
	verdict, _ := middleware.VerdictFrom(c)
	cc, _ := middleware.ClientContextFrom(c)

	resp := gin.H{
		"success":    true,
		"shop":       toClientShop(verdict.Tenant),
		"matched_by": verdict.MatchedBy,
		"request_id": middleware.RequestID(c),
	}
	if cc != nil {
		resp["domain"] = cc.PrimaryDomain()
		resp["ip"] = cc.SourceIP
	}
	c.JSON(http.StatusOK, resp)
}

type sendMessageRequest struct {
	VisitorID string `json:"visitor_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// SendMessage 接收访客消息，交给 MessageSink 后立即返回 202
func (h *ClientHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		_ = c.Error(apperrors.NewInvalidRequest("content must not be empty"))
		return
	}
	if len(content) > maxMessageBytes {
		_ = c.Error(apperrors.NewInvalidRequest("content too long"))
		return
	}

	verdict, _ := middleware.VerdictFrom(c)
	cc, _ := middleware.ClientContextFrom(c)
	msg := &model.VisitorMessage{
		ID:        uuid.NewString(),
		TenantID:  verdict.TenantID(),
		VisitorID: strings.TrimSpace(req.VisitorID),
		Content:   content,
		CreatedAt: h.now().UTC(),
	}
	if cc != nil {
		msg.IP = cc.SourceIP
		msg.Domain = cc.PrimaryDomain()
	}

	if err := h.sink.Publish(c.Request.Context(), msg); err != nil {
		_ = c.Error(apperrors.New(apperrors.ErrInternal, "failed to accept message", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message_id": msg.ID})
}

type wsFrame struct {
	Type      string `json:"type"`
	ShopID    string `json:"shop_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Connect upgrades to WebSocket, greets with the shop id, then echoes frames
// until the peer goes away.
func (h *ClientHandler) Connect(c *gin.Context) {
	verdict, _ := middleware.VerdictFrom(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写过响应
		logger.Debug("websocket upgrade failed", "error", err, "request_id", middleware.RequestID(c))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetWriteDeadline(h.now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(wsFrame{
		Type:      "welcome",
		ShopID:    verdict.TenantID(),
		RequestID: middleware.RequestID(c),
	}); err != nil {
		return
	}

	for {
		_ = conn.SetReadDeadline(h.now().Add(wsIdleTimeout))
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed", "error", err, "shop_id", verdict.TenantID())
			}
			return
		}
		_ = conn.SetWriteDeadline(h.now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(mt, payload); err != nil {
			return
		}
	}
}

type integrationCodeRequest struct {
	Position string `json:"position"`
}

// IntegrationCode 为匹配到的店铺生成嵌入代码
func (h *ClientHandler) IntegrationCode(c *gin.Context) {
	verdict, _ := middleware.VerdictFrom(c)
	if verdict.Tenant == nil {
		_ = c.Error(apperrors.NewInvalidRequest("integration code requires a matched shop"))
		return
	}

	var req integrationCodeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
	}
	position := req.Position
	switch position {
	case "":
		position = "bottom-right"
	case "bottom-right", "bottom-left":
	default:
		_ = c.Error(apperrors.NewInvalidRequest("position must be bottom-right or bottom-left"))
		return
	}

	serverURL := h.publicURL
	if serverURL == "" {
		if !hostPattern.MatchString(c.Request.Host) {
			_ = c.Error(apperrors.NewInvalidRequest("invalid Host header"))
			return
		}
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		serverURL = scheme + "://" + c.Request.Host
	}

	var buf bytes.Buffer
	err := embedTemplate.Execute(&buf, map[string]string{
		"ShopID":    verdict.Tenant.ID,
		"ShopName":  verdict.Tenant.Name,
		"ServerURL": serverURL,
		"Position":  position,
	})
	if err != nil {
		_ = c.Error(apperrors.New(apperrors.ErrInternal, "failed to render integration code", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"shop_id": verdict.Tenant.ID,
		"code":    buf.String(),
	})
}
