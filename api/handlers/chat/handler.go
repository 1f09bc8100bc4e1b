package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	response "chatcoin/api/handlers/common"
	chatSvc "chatcoin/internal/chat"
	"chatcoin/internal/logger"
	"chatcoin/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageSender 发起一次付费对话
type MessageSender interface {
	SendMessage(ctx context.Context, req settlement.SendRequest) (<-chan settlement.ClientEvent, error)
}

// Handler 聊天处理器
type Handler struct {
	sender   MessageSender
	chats    *chatSvc.Repository
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(sender MessageSender, chats *chatSvc.Repository, logger *zap.Logger) *Handler {
	return &Handler{
		sender: sender,
		chats:  chats,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// CreateRoomRequest 创建聊天室
type CreateRoomRequest struct {
	Title string `json:"title" binding:"max=200"`
}

// CreateRoom 创建聊天室
// @Summary 创建聊天室
// @Tags Chat
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body CreateRoomRequest true "聊天室"
// @Success 201 {object} response.APIResponse
// @Router /api/chat/rooms [post]
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Code: "INVALID_REQUEST", Message: "请求参数错误: " + err.Error()})
		return
	}

	room := &chatSvc.Room{UserID: c.GetString("user_id"), Title: req.Title}
	if err := h.chats.CreateRoom(c.Request.Context(), room); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: room})
}

// ListRooms 当前用户的聊天室
// @Summary 聊天室列表
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/chat/rooms [get]
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.chats.ListRooms(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rooms})
}

// ListMessages 聊天室消息
// @Summary 聊天室消息列表
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param roomId path string true "聊天室ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.APIResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/chat/rooms/{roomId}/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.chats.FindRoom(ctx, c.Param("roomId"))
	if err != nil {
		if errors.Is(err, chatSvc.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Code: string(settlement.KindNotFound), Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	if room.UserID != c.GetString("user_id") {
		c.JSON(http.StatusForbidden, response.ErrorResponse{Code: string(settlement.KindForbidden), Message: "无权访问该聊天室"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	msgs, total, err := h.chats.ListMessages(ctx, room.ID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: response.NewListResponse(msgs, max(page, 1), pageSize, total)})
}

// StreamMessage 发送消息并以 SSE 推送结果
// @Summary 发送消息（SSE）
// @Description 事件依次为 started、delta（多次）、usage；失败时以 error 事件结束
// @Tags Chat
// @Security BearerAuth
// @Accept json
// @Produce text/event-stream
// @Param roomId path string true "聊天室ID"
// @Param body body settlement.SendRequest true "消息"
// @Success 200 {string} string "SSE 事件流"
// @Failure 400 {object} response.ErrorResponse
// @Failure 402 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/chat/rooms/{roomId}/messages/stream [post]
func (h *Handler) StreamMessage(c *gin.Context) {
	var req settlement.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Code: string(settlement.KindInvalidRequest), Message: "请求参数错误: " + err.Error()})
		return
	}
	req.UserID = c.GetString("user_id")
	req.RoomID = c.Param("roomId")

	events, err := h.sender.SendMessage(c.Request.Context(), req)
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Name, ev.Data)
		return true
	})
}

// wsFrame WebSocket 推送帧
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

const (
	wsFirstFrameTimeout = 30 * time.Second
	wsWriteTimeout      = 10 * time.Second
	wsReadLimit         = 64 << 10
)

// StreamMessageWS 发送消息并通过 WebSocket 推送结果
// 第一帧为请求 JSON，之后每个事件一帧 {event, data}，结束后服务端关闭连接
// @Summary 发送消息（WebSocket）
// @Tags Chat
// @Security BearerAuth
// @Param roomId path string true "聊天室ID"
// @Router /api/chat/rooms/{roomId}/messages/ws [get]
func (h *Handler) StreamMessageWS(c *gin.Context) {
	userID := c.GetString("user_id")
	roomID := c.Param("roomId")
	log := logger.FromContext(c.Request.Context(), h.logger).With(zap.String("room_id", roomID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("WebSocket 升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsFirstFrameTimeout))

	var req settlement.SendRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, wsFrame{Event: settlement.EventError, Data: settlement.ErrorPayload{
			Code:    settlement.KindInvalidRequest,
			Message: "请求参数错误",
		}})
		return
	}
	req.UserID = userID
	req.RoomID = roomID
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 客户端关闭连接时取消上游请求
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events, err := h.sender.SendMessage(ctx, req)
	if err != nil {
		_, body := errorResponse(err)
		writeFrame(conn, wsFrame{Event: settlement.EventError, Data: settlement.ErrorPayload{
			Code:    settlement.ErrorKind(body.Code),
			Message: body.Message,
		}})
		return
	}

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		if err := writeFrame(conn, wsFrame{Event: ev.Name, Data: ev.Data}); err != nil {
			log.Info("WebSocket 写入失败，取消请求", zap.Error(err))
			broken = true
			cancel()
		}
	}
	if !broken {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteTimeout))
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}

// errorResponse 校验阶段错误映射为 HTTP 状态码
func errorResponse(err error) (int, response.ErrorResponse) {
	kind := settlement.KindOf(err)
	msg := err.Error()
	var se *settlement.Error
	if errors.As(err, &se) {
		msg = se.Message
	}

	status := http.StatusInternalServerError
	switch kind {
	case settlement.KindInvalidRequest:
		status = http.StatusBadRequest
	case settlement.KindNotFound:
		status = http.StatusNotFound
	case settlement.KindForbidden:
		status = http.StatusForbidden
	case settlement.KindInsufficientBalance:
		status = http.StatusPaymentRequired
	case settlement.KindConflict:
		status = http.StatusConflict
	case settlement.KindUpstream, settlement.KindParse:
		status = http.StatusBadGateway
	case "":
		kind = settlement.KindPersistence
	}
	return status, response.ErrorResponse{Code: string(kind), Message: msg}
}
