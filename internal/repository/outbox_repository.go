package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/gatherly/internal/model"
)

var (
	ErrOutboxNotFound = errors.New("outbox message not found")
	// ErrOutboxTransition 状态不允许迁移（例如已 SENT）
	ErrOutboxTransition = errors.New("outbox status transition not allowed")
)

// OutboxRepository 邮件 outbox 存储
type OutboxRepository interface {
	// Create 写入消息及每个收件人一行（重复地址忽略）
	Create(ctx context.Context, msg *model.OutboxMessage, addresses []string) error
	Get(ctx context.Context, id string) (*model.OutboxMessage, error)
	List(ctx context.Context, status model.OutboxStatus, offset, limit int) ([]*model.OutboxMessage, error)
	RemainingRecipients(ctx context.Context, messageID string) ([]string, error)
	// DeleteRecipients 确认送达：删除对应收件人行，可重复调用
	DeleteRecipients(ctx context.Context, messageID string, addresses []string) (int64, error)
	// ClaimStale 认领软锁为空或已过期的消息（最旧优先），认领即设置 soft_lock_until = now + ttl
	ClaimStale(ctx context.Context, now time.Time, ttl time.Duration, limit, maxAttempts int) ([]*model.OutboxMessage, error)
	// RecordAttempt 记录一次投递结果并释放软锁
	RecordAttempt(ctx context.Context, id string, status model.OutboxStatus, reason string, at time.Time) error
	// ReleaseLock 释放软锁，不计入尝试次数
	ReleaseLock(ctx context.Context, id string) error
	// DeleteIfDrained 收件人为空时删除消息
	DeleteIfDrained(ctx context.Context, id string) (bool, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Create(ctx context.Context, msg *model.OutboxMessage, addresses []string) error {
	db := conn(ctx, r.db)
	msg.Recipients = nil
	if err := db.Create(msg).Error; err != nil {
		return err
	}
	if len(addresses) == 0 {
		return nil
	}
	rows := make([]model.OutboxRecipient, 0, len(addresses))
	for _, a := range addresses {
		rows = append(rows, model.OutboxRecipient{ID: uuid.NewString(), MessageID: msg.ID, Address: a})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return err
	}
	msg.Recipients = rows
	return nil
}

func (r *outboxRepository) Get(ctx context.Context, id string) (*model.OutboxMessage, error) {
	var m model.OutboxMessage
	err := conn(ctx, r.db).Preload("Recipients").Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOutboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *outboxRepository) List(ctx context.Context, status model.OutboxStatus, offset, limit int) ([]*model.OutboxMessage, error) {
	var res []*model.OutboxMessage
	q := conn(ctx, r.db).Preload("Recipients")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *outboxRepository) RemainingRecipients(ctx context.Context, messageID string) ([]string, error) {
	var addrs []string
	err := conn(ctx, r.db).
		Model(&model.OutboxRecipient{}).
		Where("message_id = ?", messageID).
		Order("address").
		Pluck("address", &addrs).Error
	return addrs, err
}

func (r *outboxRepository) DeleteRecipients(ctx context.Context, messageID string, addresses []string) (int64, error) {
	if len(addresses) == 0 {
		return 0, nil
	}
	res := conn(ctx, r.db).
		Where("message_id = ? AND address IN ?", messageID, addresses).
		Delete(&model.OutboxRecipient{})
	return res.RowsAffected, res.Error
}

func (r *outboxRepository) ClaimStale(ctx context.Context, now time.Time, ttl time.Duration, limit, maxAttempts int) ([]*model.OutboxMessage, error) {
	now = now.UTC()
	lockUntil := now.Add(ttl)
	var claimed []*model.OutboxMessage

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("(soft_lock_until IS NULL OR soft_lock_until <= ?)", now)
		if maxAttempts > 0 {
			// 超过最大尝试次数的 FAILED 消息保留审计，不再扫描
			q = q.Where("(attempt_count < ? OR status = ?)", maxAttempts, model.OutboxStatusSent)
		}
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var candidates []*model.OutboxMessage
		if err := q.Order("created_at").Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}

		for _, c := range candidates {
			// 条件更新：只有仍未被他人认领时才生效
			res := tx.Model(&model.OutboxMessage{}).
				Where("id = ? AND (soft_lock_until IS NULL OR soft_lock_until <= ?)", c.ID, now).
				Update("soft_lock_until", lockUntil)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				until := lockUntil
				c.SoftLockUntil = &until
				claimed = append(claimed, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxRepository) RecordAttempt(ctx context.Context, id string, status model.OutboxStatus, reason string, at time.Time) error {
	var from []model.OutboxStatus
	for _, s := range []model.OutboxStatus{model.OutboxStatusPending, model.OutboxStatusSent, model.OutboxStatusFailed} {
		if s.CanTransitionTo(status) {
			from = append(from, s)
		}
	}
	if len(from) == 0 {
		return ErrOutboxTransition
	}

	at = at.UTC()
	res := conn(ctx, r.db).Model(&model.OutboxMessage{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":          status,
			"fail_reason":     reason,
			"last_attempt_at": at,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"soft_lock_until": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxTransition
	}
	return nil
}

func (r *outboxRepository) ReleaseLock(ctx context.Context, id string) error {
	return conn(ctx, r.db).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("soft_lock_until", nil).Error
}

func (r *outboxRepository) DeleteIfDrained(ctx context.Context, id string) (bool, error) {
	res := conn(ctx, r.db).Exec(
		`DELETE FROM notification_outbox
		 WHERE id = ?
		   AND NOT EXISTS (SELECT 1 FROM notification_outbox_recipients WHERE message_id = ?)`,
		id, id,
	)
	return res.RowsAffected == 1, res.Error
}

// Migrate 初始化 outbox 与戳一戳相关表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.OutboxMessage{}, &model.OutboxRecipient{}, &model.PokeAttempt{})
}
