package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the given engine and migrates the schema. driver is one
// of sqlite, postgres or mysql.
func Open(driver, dsn string, lvl logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dir != "" && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(lvl),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if IsSQLite(db) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		if dsn == ":memory:" {
			// Every new connection to :memory: is a fresh empty database.
			sqlDB.SetMaxOpenConns(1)
		} else if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemory returns a migrated, silent in-memory sqlite database.
func OpenMemory() (*gorm.DB, error) {
	return Open("sqlite", ":memory:", logger.Silent)
}

// Init opens the configured database into DB.
func Init() error {
	db, err := Open(config.Cfg.DatabaseDriver, config.Cfg.DatabasePath(), logger.Warn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := seedDefaults(db); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}
	return nil
}

func seedDefaults(db *gorm.DB) error {
	defaults := map[string]string{
		"mercadopago_access_token": "",
		"mercadopago_public_key":   "",
		"default_max_connections":  "1",
		"payment_amount":           "15.00",
	}

	for key, value := range defaults {
		var count int64
		if err := db.Model(&Setting{}).Scopes(settingKey(key)).Count(&count).Error; err != nil {
			return fmt.Errorf("check setting %s: %w", key, err)
		}
		if count == 0 {
			if err := db.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("seed setting %s: %w", key, err)
			}
		}
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

// IsSQLite reports whether db runs on sqlite, which has no row locks.
func IsSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// IsNotFound reports whether err is gorm's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// settingKey matches one settings row. The struct condition lets the
// dialector quote the column; KEY is reserved in MySQL.
func settingKey(key string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(&Setting{Key: key})
	}
}

func GetSetting(db *gorm.DB, key string) (string, error) {
	var s Setting
	if err := db.Scopes(settingKey(key)).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(db *gorm.DB, key, value string) error {
	return db.Scopes(settingKey(key)).
		Assign(map[string]interface{}{"value": value}).
		FirstOrCreate(&Setting{Key: key}).Error
}

// EnsureSetting stores value under key unless the key already exists, and
// returns whichever value is stored. Concurrent callers all get the value
// that won.
func EnsureSetting(db *gorm.DB, key, value string) (string, error) {
	s := Setting{Key: key}
	err := db.Scopes(settingKey(key)).Attrs(Setting{Value: value}).FirstOrCreate(&s).Error
	if err != nil {
		// Lost the insert race; the winner's row is there now.
		if stored, gerr := GetSetting(db, key); gerr == nil {
			return stored, nil
		}
		return "", err
	}
	return s.Value, nil
}

// User helpers

func GetUserByUsername(db *gorm.DB, username string) (*User, error) {
	var u User
	if err := db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(db *gorm.DB, id uint) (*User, error) {
	var u User
	if err := db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func UpdateUserPassword(db *gorm.DB, id uint, hash string) error {
	return db.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func UserCount(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&User{}).Count(&count).Error
	return count, err
}

func GetFirstAdmin(db *gorm.DB) (*User, error) {
	var u User
	if err := db.Where("role = ?", authz.RoleAdmin).Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Server helpers

func GetServer(db *gorm.DB, id uint) (*Server, error) {
	var s Server
	if err := db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func ListServers(db *gorm.DB) ([]Server, error) {
	var servers []Server
	if err := db.Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func ActiveServers(db *gorm.DB) ([]Server, error) {
	var servers []Server
	if err := db.Where("status = ?", ServerActive).Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}
