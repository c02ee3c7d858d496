package database

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN builds the MySQL data source name from DB_* variables. Times are
// stored and read as UTC.
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// SetupDatabase connects with retries. With DB_AUTO_MIGRATE=true the schema
// is migrated by GORM; otherwise cmd/migrate owns the schema.
func SetupDatabase() (*gorm.DB, error) {
	logLevel := logger.Warn
	if env.IsDev() {
		logLevel = logger.Info
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger:  logger.Default.LogMode(logLevel),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if env.GetEnvBool("DB_AUTO_MIGRATE", false) {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("[Database] Schema auto-migrated")
	}
	return db, nil
}
