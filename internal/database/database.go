package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gluk-w/termgate/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// ErrVMNotFound is returned when a VM does not exist or is not owned by the
// requesting user. The two cases are deliberately indistinguishable.
var ErrVMNotFound = errors.New("vm not found")

func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := Open(dbPath)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	DB = db
	return nil
}

// Open opens the sqlite database at path and migrates the schema. Writers
// wait on the busy timeout instead of failing with SQLITE_BUSY, and an
// in-memory database is pinned to one connection so every query sees the
// same schema.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_txlock=immediate"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &VM{}, &TerminalToken{}, &TerminalAuditLog{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetUserByUsername(db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureUser returns the user with the given name, creating it if needed.
func EnsureUser(db *gorm.DB, username string) (*User, error) {
	user := User{Username: username}
	if err := db.Where(User{Username: username}).FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("ensure user %q: %w", username, err)
	}
	return &user, nil
}

func CreateVM(db *gorm.DB, vm *VM) error {
	if err := db.Create(vm).Error; err != nil {
		return fmt.Errorf("create vm: %w", err)
	}
	return nil
}

// GetOwnedVM returns the VM with the given id if it belongs to userID.
func GetOwnedVM(db *gorm.DB, vmID, userID uint) (*VM, error) {
	var vm VM
	err := db.Where("id = ? AND user_id = ?", vmID, userID).First(&vm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVMNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup vm %d: %w", vmID, err)
	}
	return &vm, nil
}
