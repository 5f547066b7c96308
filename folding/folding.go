// Package folding 统一定义消息新鲜度窗口。
// 转人工时复制上下文和历史消息折叠展示必须使用同一个窗口常量和比较语义，
// 否则客服看到的上下文会和用户端折叠结果不一致。
package folding

import "time"

// Window 新鲜度窗口长度
const Window = 180 * time.Second

// IsStale 判断消息是否过期。恰好落在窗口边界上的消息视为新鲜。
func IsStale(createdAt, now time.Time) bool {
	return now.Sub(createdAt) > Window
}

// WindowStart 返回以 now 为终点的窗口起点
func WindowStart(now time.Time) time.Time {
	return now.Add(-Window)
}
