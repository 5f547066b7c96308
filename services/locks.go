package services

import "sync"

// RoomLocks 以房间为粒度的互斥锁表，接入/关闭/消息写入共用同一份，
// 保证同一房间的并发变更串行，不同房间互不影响。
type RoomLocks struct {
	locks sync.Map // key -> *sync.Mutex
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{}
}

func (l *RoomLocks) Get(key string) *sync.Mutex {
	v, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}
