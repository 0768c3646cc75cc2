package termtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gluk-w/termgate/internal/database"
	"gorm.io/gorm"
)

// SQLStore keeps tokens in the terminal_tokens table so that the issuing API
// and the gateway can run as separate processes over one database.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Replace(ctx context.Context, tok Token) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vm_id = ? AND consumed_at IS NULL", tok.VMID).
			Delete(&database.TerminalToken{}).Error; err != nil {
			return fmt.Errorf("delete previous tokens for vm %d: %w", tok.VMID, err)
		}
		row := database.TerminalToken{
			VMID:      tok.VMID,
			Username:  tok.Username,
			Token:     tok.Value,
			ExpiresAt: tok.ExpiresAt.UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) Consume(ctx context.Context, value string, now time.Time) (Token, error) {
	var (
		tok       Token
		resultErr error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row database.TerminalToken
		err := tx.Where("token = ?", value).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			resultErr = ErrNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup token: %w", err)
		}

		if !now.Before(row.ExpiresAt) {
			// Opportunistic cleanup; the caller still sees ErrNotFound.
			if err := tx.Delete(&row).Error; err != nil {
				return fmt.Errorf("delete expired token: %w", err)
			}
			resultErr = ErrNotFound
			return nil
		}
		if row.ConsumedAt != nil {
			resultErr = ErrAlreadyConsumed
			return nil
		}

		consumedAt := now.UTC()
		res := tx.Model(&database.TerminalToken{}).
			Where("id = ? AND consumed_at IS NULL", row.ID).
			Update("consumed_at", consumedAt)
		if res.Error != nil {
			return fmt.Errorf("mark token consumed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			resultErr = ErrAlreadyConsumed
			return nil
		}

		tok = Token{
			Value:     row.Token,
			VMID:      row.VMID,
			Username:  row.Username,
			ExpiresAt: row.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return Token{}, err
	}
	if resultErr != nil {
		return Token{}, resultErr
	}
	return tok, nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&database.TerminalToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
