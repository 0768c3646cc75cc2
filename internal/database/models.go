package database

import "time"

// User mirrors the account record owned by the upstream account service.
// The gateway only reads it to resolve VM ownership.
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type VM struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Name      string    `gorm:"not null" json:"vm_name"`
	Status    string    `gorm:"not null;default:stopped" json:"status"`
	DiskSize  int       `gorm:"not null;default:0" json:"disk_size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TerminalToken is the persisted form of a single-use terminal access token.
// ConsumedAt is set when the token is redeemed; the row is kept until
// ExpiresAt so that replays can be told apart from unknown values.
type TerminalToken struct {
	ID         uint       `gorm:"primaryKey;autoIncrement"`
	VMID       uint       `gorm:"column:vm_id;not null;index"`
	Username   string     `gorm:"size:64"`
	Token      string     `gorm:"uniqueIndex;not null;size:64"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	ConsumedAt *time.Time `gorm:"index"`
}

type TerminalAuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	VMID      uint      `gorm:"column:vm_id;index" json:"vm_id"`
	SessionID string    `gorm:"size:36;index" json:"session_id"`
	EventType string    `gorm:"not null;index" json:"event_type"`
	Username  string    `gorm:"size:64" json:"username"`
	SourceIP  string    `gorm:"size:64" json:"source_ip"`
	Details   string    `gorm:"type:text" json:"details"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
