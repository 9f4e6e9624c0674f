package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 支持的数据库驱动
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open 建立数据库连接并执行自动迁移。
// driver 为空时默认 sqlite；sqlite 使用 dsn 作为文件路径（为空回退 routinecard.db），
// postgres 使用 dsn 作为连接串。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "", DriverSQLite:
		path := strings.TrimSpace(dsn)
		if path == "" {
			path = "routinecard.db"
		}
		if err := ensureParentDir(path); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(path)
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres driver requires a dsn")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate 为核心模型创建/更新表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&Routine{},
		&RoutineVersion{},
		&CompletedRoutine{},
		&EditHistory{},
		&PaperInventory{},
		&SystemSetting{},
	)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
