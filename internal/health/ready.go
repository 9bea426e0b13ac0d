package health

import "sync/atomic"

// Readiness 就绪状态聚合（节点、采样馈送）
type Readiness struct {
	nodeReady atomic.Bool
	feedReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetNodeReady(v bool) { r.nodeReady.Store(v) }
func (r *Readiness) SetFeedReady(v bool) { r.feedReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.nodeReady.Load() && r.feedReady.Load()
}
