package model

import "time"

// PokeAttempt 戳一戳历史记录
type PokeAttempt struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	SenderID    string    `gorm:"type:varchar(36);not null;index:idx_poke_triple,priority:1"`
	RecipientID string    `gorm:"type:varchar(36);not null;index:idx_poke_triple,priority:2"`
	EventID     string    `gorm:"type:varchar(36);not null;index:idx_poke_triple,priority:3"`
	SentAt      time.Time `gorm:"not null;index:idx_poke_triple,priority:4"`
}

func (PokeAttempt) TableName() string { return "poke_attempts" }
