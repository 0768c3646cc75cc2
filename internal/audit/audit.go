package audit

import (
	"log"
	"time"

	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/logutil"
	"gorm.io/gorm"
)

// Event types.
const (
	EventTokenIssued          = "token_issued"
	EventTokenRejected        = "token_rejected"
	EventSessionStart         = "session_start"
	EventSessionEnd           = "session_end"
	EventBackendConnectFailed = "backend_connect_failed"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// Entry contains the fields needed to create an audit log record.
type Entry struct {
	VMID       uint
	SessionID  string
	EventType  string
	Username   string
	SourceIP   string
	Details    string
	DurationMs int64
}

// Auditor writes and queries terminal audit records.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor over db. A non-positive retentionDays selects
// DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log records entry to the database and the standard logger.
func (a *Auditor) Log(entry Entry) error {
	record := database.TerminalAuditLog{
		VMID:      entry.VMID,
		SessionID: entry.SessionID,
		EventType: entry.EventType,
		Username:  entry.Username,
		SourceIP:  entry.SourceIP,
		Details:   entry.Details,
		Duration:  entry.DurationMs,
		CreatedAt: a.nowFn().UTC(),
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s vm=%d user=%s ip=%s session=%s details=%s",
		entry.EventType,
		entry.VMID,
		logutil.SanitizeForLog(entry.Username),
		entry.SourceIP,
		entry.SessionID,
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// QueryOptions filters audit records.
type QueryOptions struct {
	VMID      uint
	SessionID string
	EventType string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit records and pagination metadata.
type QueryResult struct {
	Entries []database.TerminalAuditLog `json:"entries"`
	Total   int64                       `json:"total"`
	Limit   int                         `json:"limit"`
	Offset  int                         `json:"offset"`
}

// Query returns records matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.TerminalAuditLog{})

	if opts.VMID > 0 {
		tx = tx.Where("vm_id = ?", opts.VMID)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", opts.Until.UTC())
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.TerminalAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes records older than days (or the configured retention
// when days is not positive) and returns how many were deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().UTC().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.TerminalAuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
