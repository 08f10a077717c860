package repo

import (
	"time"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Alert{}, &entity.NotificationLog{})
}

// OpenSQLite 打开 sqlite 数据库, 所有时间统一按 UTC 存储
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 单写者, 串行化连接避免 database is locked
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
