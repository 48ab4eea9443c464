package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/gatherly/internal/model"
)

// PokeStore 戳一戳历史：窗口内计数与记录
type PokeStore interface {
	// Stats 返回 (sender, recipient, event) 在 since 之后的次数及其中最早一次时间
	Stats(ctx context.Context, senderID, recipientID, eventID string, since time.Time) (count int64, oldest time.Time, err error)
	Record(ctx context.Context, attempt *model.PokeAttempt) error
}

type pokeRepository struct{ db *gorm.DB }

func NewPokeRepository(db *gorm.DB) PokeStore { return &pokeRepository{db: db} }

func (r *pokeRepository) Stats(ctx context.Context, senderID, recipientID, eventID string, since time.Time) (int64, time.Time, error) {
	db := conn(ctx, r.db)
	if InTransaction(ctx) && db.Dialector.Name() == "postgres" {
		// 同一三元组串行化，避免并发请求同时通过计数检查
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", senderID+":"+recipientID+":"+eventID).Error; err != nil {
			return 0, time.Time{}, err
		}
	}

	q := db.Model(&model.PokeAttempt{}).
		Where("sender_id = ? AND recipient_id = ? AND event_id = ? AND sent_at >= ?", senderID, recipientID, eventID, since.UTC())

	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		return 0, time.Time{}, err
	}
	if cnt == 0 {
		return 0, time.Time{}, nil
	}

	var first model.PokeAttempt
	if err := db.Where("sender_id = ? AND recipient_id = ? AND event_id = ? AND sent_at >= ?", senderID, recipientID, eventID, since.UTC()).
		Order("sent_at").
		Limit(1).
		Find(&first).Error; err != nil {
		return 0, time.Time{}, err
	}
	return cnt, first.SentAt, nil
}

func (r *pokeRepository) Record(ctx context.Context, attempt *model.PokeAttempt) error {
	attempt.SentAt = attempt.SentAt.UTC()
	return conn(ctx, r.db).Create(attempt).Error
}
