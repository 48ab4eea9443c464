package model

import "time"

// OutboxStatus 发送任务状态
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
	OutboxStatusFailed  OutboxStatus = "FAILED"
)

// CanTransitionTo PENDING -> SENT|FAILED；FAILED 可再次进入投递周期；SENT 为终态
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending, OutboxStatusFailed:
		return next == OutboxStatusSent || next == OutboxStatusFailed
	default:
		return false
	}
}

// OutboxMessage 一次邮件发送任务（可含多个收件人）
type OutboxMessage struct {
	ID            string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CorrelationID string       `gorm:"type:varchar(64);index:idx_outbox_correlation" json:"correlation_id"`
	Subject       string       `gorm:"type:varchar(512)" json:"subject"`
	Body          string       `gorm:"type:text" json:"body"`
	Status        OutboxStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	AttemptCount  int          `gorm:"not null;default:0" json:"attempt_count"`
	CreatedAt     time.Time    `gorm:"index:idx_outbox_sweep,priority:2" json:"created_at"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	FailReason    string       `gorm:"type:text" json:"fail_reason,omitempty"`
	// 软锁：非空且在未来时表示已被某个投递方认领
	SoftLockUntil *time.Time `gorm:"index:idx_outbox_sweep,priority:1" json:"soft_lock_until,omitempty"`

	Recipients []OutboxRecipient `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"recipients,omitempty"`
}

func (OutboxMessage) TableName() string { return "notification_outbox" }

// OutboxRecipient 尚未确认送达的收件人；行存在即“未送达”
type OutboxRecipient struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MessageID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_outbox_recipient" json:"message_id"`
	Address   string `gorm:"type:varchar(320);not null;uniqueIndex:ux_outbox_recipient" json:"address"`
	// 复合唯一键，避免重复 (message, address)
}

func (OutboxRecipient) TableName() string { return "notification_outbox_recipients" }
