package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/api/middleware"
	"github.com/jpt262/dialup/internal/gateway"
)

// newTestNode 构造一个未启动的节点，查询类接口不依赖 Start
func newTestNode(t *testing.T, mutate func(*gateway.Config)) *gateway.Node {
	t.Helper()
	cfg := gateway.DefaultConfig("api-node")
	if mutate != nil {
		mutate(&cfg)
	}
	node, err := gateway.NewNode(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	return node
}

// newTestRouter 注册路由并返回引擎
func newTestRouter(node *gateway.Node, events *EventsHandler, authCfg middleware.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterNodeRoutes(r, node, events, authCfg, zap.NewNop())
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestNodeRoutes_Queries 测试只读查询接口
func TestNodeRoutes_Queries(t *testing.T) {
	node := newTestNode(t, nil)
	r := newTestRouter(node, nil, middleware.AuthConfig{})

	t.Run("节点状态", func(t *testing.T) {
		w := doJSON(r, "GET", "/api/status", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "api-node", body["node_id"])
		assert.NotEmpty(t, body["mode"])
		assert.Contains(t, body, "capabilities")
		assert.Contains(t, body, "stats")
	})

	t.Run("对等体列表为空", func(t *testing.T) {
		w := doJSON(r, "GET", "/api/peers", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(0), body["count"])
	})

	t.Run("路由表为空", func(t *testing.T) {
		w := doJSON(r, "GET", "/api/routes", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(0), body["count"])
	})
}

// TestNodeRoutes_SendMessage 测试发消息接口的参数与失败路径
func TestNodeRoutes_SendMessage(t *testing.T) {
	node := newTestNode(t, nil)
	r := newTestRouter(node, nil, middleware.AuthConfig{})

	t.Run("非法JSON", func(t *testing.T) {
		w := doJSON(r, "POST", "/api/messages", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺少content", func(t *testing.T) {
		w := doJSON(r, "POST", "/api/messages", `{"destination":"node-b"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("未知目标无路由", func(t *testing.T) {
		w := doJSON(r, "POST", "/api/messages", `{"destination":"ghost","content":"hello"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "send failed")
	})
}

// TestNodeRoutes_EmitFrame 测试裸帧接口
func TestNodeRoutes_EmitFrame(t *testing.T) {
	node := newTestNode(t, nil)
	r := newTestRouter(node, nil, middleware.AuthConfig{})

	t.Run("缺少content", func(t *testing.T) {
		w := doJSON(r, "POST", "/api/frames", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("未装发射器", func(t *testing.T) {
		w := doJSON(r, "POST", "/api/frames", `{"content":"ping"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestNodeRoutes_SetMode 测试模式切换接口
func TestNodeRoutes_SetMode(t *testing.T) {
	t.Run("切到可用模式", func(t *testing.T) {
		node := newTestNode(t, nil)
		r := newTestRouter(node, nil, middleware.AuthConfig{})

		w := doJSON(r, "PUT", "/api/mode", `{"mode":"audio"}`)
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "audio", body["mode"])
	})

	t.Run("未知模式名", func(t *testing.T) {
		node := newTestNode(t, nil)
		r := newTestRouter(node, nil, middleware.AuthConfig{})

		w := doJSON(r, "PUT", "/api/mode", `{"mode":"warp"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("目标模式不可用", func(t *testing.T) {
		node := newTestNode(t, func(cfg *gateway.Config) {
			cfg.Audio.Enabled = false
		})
		r := newTestRouter(node, nil, middleware.AuthConfig{})

		w := doJSON(r, "PUT", "/api/mode", `{"mode":"audio"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("静默模式总是允许", func(t *testing.T) {
		node := newTestNode(t, nil)
		r := newTestRouter(node, nil, middleware.AuthConfig{})

		w := doJSON(r, "PUT", "/api/mode", `{"mode":"none"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// TestNodeRoutes_Auth 测试API Key认证
func TestNodeRoutes_Auth(t *testing.T) {
	const key = "dk_live_0123456789abcdef"
	node := newTestNode(t, nil)
	r := newTestRouter(node, nil, middleware.AuthConfig{
		APIKeys: []string{key},
		Enabled: true,
	})

	t.Run("缺少API Key返回401", func(t *testing.T) {
		w := doJSON(r, "GET", "/api/status", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("无效API Key返回403", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("X-API-Key", "dk_live_wrong_key_000000")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Header认证通过", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Bearer认证通过", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Query参数认证通过", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/status?api_key="+key, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// TestNodeRoutes_CORSPreflight 测试跨源预检
func TestNodeRoutes_CORSPreflight(t *testing.T) {
	node := newTestNode(t, nil)
	r := newTestRouter(node, nil, middleware.AuthConfig{
		APIKeys: []string{"dk_live_0123456789abcdef"},
		Enabled: true,
	})

	// 预检不带认证头也要放行
	req := httptest.NewRequest("OPTIONS", "/api/messages", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
