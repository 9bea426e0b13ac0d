package gateway

import "time"

// Message 对上层应用可见的一条消息。网格送达的消息 From 为源头节点，
// 链路层裸帧（未封装的调试/校准发射）From 为空。
type Message struct {
	ID       string    `json:"id"`
	Content  string    `json:"content"`
	Encoding string    `json:"encoding"`
	Received time.Time `json:"received"`
	From     string    `json:"from"`
}
