package services

import (
	"TripDesk/models"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

var (
	ErrAlreadyRated   = errors.New("room already rated")
	ErrInvalidScore   = errors.New("score must be between 1 and 5")
	ErrCommentTooLong = errors.New("comment exceeds 500 characters")
	ErrNotRatable     = errors.New("only closed human rooms can be rated")
)

// RatingService 收集关闭后的一次性满意度评价。
// 跳过评价是合法终态，不补发也不催促。
type RatingService struct {
	db *gorm.DB
}

func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{db: db}
}

// RecordRating 记录评价。每个关闭的人工房间最多一条，提交后不可修改。
func (s *RatingService) RecordRating(roomID string, score int, comment string) (*models.Rating, error) {
	if score < 1 || score > 5 {
		return nil, ErrInvalidScore
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > 500 {
		return nil, ErrCommentTooLong
	}

	var room models.Room
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if room.Kind != models.RoomKindHuman || !room.Closed() {
		return nil, ErrNotRatable
	}

	var existing models.Rating
	err := s.db.Where("room_id = ?", roomID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyRated
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rating := models.Rating{
		RoomID:      roomID,
		Score:       score,
		Comment:     comment,
		SubmittedAt: time.Now(),
	}
	if err := s.db.Create(&rating).Error; err != nil {
		// room_id 唯一索引兜底并发的重复提交
		return nil, ErrAlreadyRated
	}
	return &rating, nil
}

// GetRating 查询房间评价，没有则返回 nil
func (s *RatingService) GetRating(roomID string) (*models.Rating, error) {
	var rating models.Rating
	err := s.db.Where("room_id = ?", roomID).First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rating, nil
}
