package redis

import (
	"TripDesk/config"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient 初始化并返回一个新的 RedisClient 实例
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password, // 密码，没有则留空
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// 可选：添加超时配置
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// PING 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{
		Client: client,
	}, nil
}

// Close 关闭 Redis 连接
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// 在线用户信息
type OnlineUser struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Kind     string `json:"kind"` // user / agent
}

func onlineKey(roomID string) string {
	return fmt.Sprintf("support:room:%s:online_users", roomID)
}

// AddOnlineUser 把用户加入房间在线列表，field 为 user_id
func (r *RedisClient) AddOnlineUser(ctx context.Context, roomID string, info OnlineUser) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := onlineKey(roomID)
	field := fmt.Sprintf("%d", info.UserID)
	if err := r.Client.HSet(ctx, key, field, data).Err(); err != nil {
		return err
	}
	// 过期兜底，防止异常断开留下死数据
	return r.Client.Expire(ctx, key, 24*time.Hour).Err()
}

// RemoveOnlineUser 将用户移出房间在线列表
func (r *RedisClient) RemoveOnlineUser(ctx context.Context, roomID string, userID uint) error {
	field := fmt.Sprintf("%d", userID)
	return r.Client.HDel(ctx, onlineKey(roomID), field).Err()
}

// GetOnlineUsers 获取指定房间的在线用户
func (r *RedisClient) GetOnlineUsers(ctx context.Context, roomID string) ([]OnlineUser, error) {
	key := onlineKey(roomID)
	result, err := r.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online users for key %s: %w", key, err)
	}
	users := make([]OnlineUser, 0, len(result))
	for _, data := range result {
		var info OnlineUser
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		users = append(users, info)
	}
	return users, nil
}

// IncrEventCount 累加事件计数，供客服面板读取
func (r *RedisClient) IncrEventCount(ctx context.Context, event string) error {
	return r.Client.HIncrBy(ctx, "support:event_counts", event, 1).Err()
}

// GetEventCounts 读取全部事件计数
func (r *RedisClient) GetEventCounts(ctx context.Context) (map[string]string, error) {
	return r.Client.HGetAll(ctx, "support:event_counts").Result()
}
