package database

import (
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	err = db.AutoMigrate(
		&model.Wallet{},
		&model.WalletEvent{},
		&model.TransferSaga{},
		&model.IdempotencyRecord{},
		&model.OutboxEvent{},
		&model.FraudAlert{},
	)
	if err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	installEventGuards(db)

	DB = db
	log.Println("MySQL 连接成功")
	return db
}

// installEventGuards 安装 wallet_events 的数据库级不可变保护
// 应用层和 gorm 钩子之外的第三道防线；权限收敛（仅 INSERT/SELECT）
// 需要 DBA 权限，见 migrations/002_wallet_events_grants.sql
func installEventGuards(db *gorm.DB) {
	stmts := []string{
		`DROP TRIGGER IF EXISTS wallet_events_no_update`,
		`CREATE TRIGGER wallet_events_no_update BEFORE UPDATE ON wallet_events
		 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'wallet_events is append-only'`,
		`DROP TRIGGER IF EXISTS wallet_events_no_delete`,
		`CREATE TRIGGER wallet_events_no_delete BEFORE DELETE ON wallet_events
		 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'wallet_events is append-only'`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			// 应用账号可能没有 TRIGGER 权限，此时由 DBA 按迁移脚本手工安装
			log.Printf("安装 wallet_events 触发器失败（可由 DBA 手工执行迁移脚本）: %v", err)
			return
		}
	}
	log.Println("wallet_events 不可变触发器已安装")
}
