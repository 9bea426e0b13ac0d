package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateNodeID 生成节点实例ID
// 优先使用环境变量DIALUP_NODE_ID，否则生成UUID
func GenerateNodeID() string {
	if nodeID := os.Getenv("DIALUP_NODE_ID"); nodeID != "" {
		return nodeID
	}

	// 生成格式：dialup-{hostname}-{uuid}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("dialup-%s-%s", hostname, shortUUID)
}
