// Package api 实现节点管理HTTP API
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/mode"
)

// NodeHandler 节点管理API处理器
type NodeHandler struct {
	node   *gateway.Node
	logger *zap.Logger
}

// NewNodeHandler 创建节点管理Handler
func NewNodeHandler(node *gateway.Node, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		node:   node,
		logger: logger,
	}
}

// SendMessageRequest 发消息请求体
type SendMessageRequest struct {
	Destination string `json:"destination" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

// EmitFrameRequest 发裸帧请求体，链路调试用
type EmitFrameRequest struct {
	Content string `json:"content" binding:"required"`
}

// SetModeRequest 切模式请求体
type SetModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// parseMode 把请求里的模式名解析成内部模式
func parseMode(s string) (mode.Mode, bool) {
	switch mode.Mode(s) {
	case mode.ModeNone, mode.ModeVisual, mode.ModeAudio, mode.ModeBoth:
		return mode.Mode(s), true
	}
	return mode.ModeNone, false
}

// Status 查询节点状态
// @Summary 查询节点状态
// @Description 返回节点标识、运行时长、当前模式与各层计数
// @Tags 节点API
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/status [get]
func (h *NodeHandler) Status(c *gin.Context) {
	modes := h.node.Modes()
	c.JSON(http.StatusOK, gin.H{
		"node_id":        h.node.ID(),
		"uptime_seconds": h.node.Uptime().Seconds(),
		"mode":           modes.Current(),
		"capabilities":   modes.Capabilities(),
		"quality":        modes.ChannelQuality(),
		"stats":          h.node.Stats(),
	})
}

// Peers 查询对等体列表
// @Summary 查询对等体列表
// @Description 返回当前已发现的全部对等体
// @Tags 节点API
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/peers [get]
func (h *NodeHandler) Peers(c *gin.Context) {
	peers := h.node.Mesh().Peers()
	c.JSON(http.StatusOK, gin.H{
		"count": len(peers),
		"peers": peers,
	})
}

// Routes 查询路由表
// @Summary 查询路由表
// @Description 返回当前路由表快照
// @Tags 节点API
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/routes [get]
func (h *NodeHandler) Routes(c *gin.Context) {
	routes := h.node.Mesh().Routes()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(routes),
		"routes": routes,
	})
}

// SendMessage 向指定对等体发消息
// @Summary 发送文本消息
// @Description 对消息分片并经当前激活通道发往目标对等体
// @Tags 节点API
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body SendMessageRequest true "消息参数"
// @Success 202 {object} map[string]interface{} "已入队"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 404 {object} map[string]interface{} "无路由或无可用通道"
// @Router /api/messages [post]
func (h *NodeHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	if !h.node.SendText(req.Destination, req.Content) {
		h.logger.Warn("api send rejected",
			zap.String("destination", req.Destination),
			zap.Int("content_len", len(req.Content)))
		c.JSON(http.StatusNotFound, gin.H{"error": "send failed: no route or no active channel"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "queued",
		"destination": req.Destination,
	})
}

// EmitFrame 发一个不走网络层的裸帧
// @Summary 发送裸帧
// @Description 把内容直接编成单帧发射，跳过分片与网络层，供链路调试
// @Tags 节点API
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body EmitFrameRequest true "帧内容"
// @Success 202 {object} map[string]interface{} "已入队"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 404 {object} map[string]interface{} "无可用通道或内容超长"
// @Router /api/frames [post]
func (h *NodeHandler) EmitFrame(c *gin.Context) {
	var req EmitFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	if !h.node.EmitFrame([]byte(req.Content)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "emit failed: no active channel or payload too long"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// SetMode 手动切换通道模式
// @Summary 切换通道模式
// @Description 强制设置工作模式，目标模式必须可用
// @Tags 节点API
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body SetModeRequest true "目标模式"
// @Success 200 {object} map[string]interface{} "成功"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 409 {object} map[string]interface{} "目标模式不可用"
// @Router /api/mode [put]
func (h *NodeHandler) SetMode(c *gin.Context) {
	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	target, ok := parseMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode", "detail": req.Mode})
		return
	}

	if !h.node.Modes().SetMode(target) {
		c.JSON(http.StatusConflict, gin.H{"error": "mode not available", "mode": target})
		return
	}

	c.JSON(http.StatusOK, gin.H{"mode": h.node.Modes().Current()})
}
