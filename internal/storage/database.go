package storage

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"chatkeeper/internal/config"
)

// Open connects to the database described by cfg and pings it.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		db, err = openSQLite(cfg.DSN)
	case "mysql":
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn must be provided")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dsn == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func openMySQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.Params != "" {
		// ParseDSN applies driver options such as timeout
		parsed, err := mysql.ParseDSN(mc.FormatDSN() + "&" + cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("parse mysql params: %w", err)
		}
		mc = parsed
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// Migrate ensures the required tables are present and upgrades tables
// created before reminders carried a user_name column.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chat_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_history_chat ON chat_history(chat_id, timestamp)`,
			`CREATE TABLE IF NOT EXISTS reminders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				content TEXT NOT NULL,
				remind_time DATETIME NOT NULL,
				user_name TEXT,
				is_completed BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE TABLE IF NOT EXISTS accounts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				user_name TEXT NOT NULL,
				account_name TEXT NOT NULL,
				balance REAL NOT NULL,
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(chat_id, user_name, account_name, timestamp)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chat_history (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				chat_id VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				timestamp DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
				PRIMARY KEY (id),
				INDEX idx_chat_history_chat (chat_id, timestamp)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS reminders (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				chat_id VARCHAR(255) NOT NULL,
				content TEXT NOT NULL,
				remind_time DATETIME(6) NOT NULL,
				user_name VARCHAR(255),
				is_completed BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (id),
				INDEX idx_reminders_due (is_completed, remind_time)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS accounts (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				chat_id VARCHAR(255) NOT NULL,
				user_name VARCHAR(255) NOT NULL,
				account_name VARCHAR(255) NOT NULL,
				balance DOUBLE NOT NULL,
				timestamp DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
				PRIMARY KEY (id),
				INDEX idx_accounts_owner (chat_id, user_name, account_name, timestamp)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	if err := ensureColumn(db, "reminders", "user_name", "TEXT"); err != nil {
		return err
	}
	if strings.ToLower(driver) != "mysql" {
		// reminders may predate user_name, so its index is created after the upgrade
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(is_completed, remind_time)`); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
		if err := normalizeReminderTimes(db); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// Rows written by older clients hold ISO strings such as
// "2024-05-01T08:00:00.000Z" or naive local times. Due compares remind_time
// as text, so every row must use the UTC layout the driver binds.
const (
	reminderTimeLayout = `'%Y-%m-%d %H:%M:%S+00:00'`
	zonedReminderTime  = `(remind_time LIKE '%Z' OR remind_time GLOB '*[+-][0-9][0-9]:[0-9][0-9]')`
)

func normalizeReminderTimes(db *sql.DB) error {
	stmts := []string{
		// explicit zone, converted to UTC
		`UPDATE reminders SET remind_time = strftime(` + reminderTimeLayout + `, remind_time)
			WHERE typeof(remind_time) = 'text' AND remind_time NOT LIKE '% __:__:__%+00:00'
			AND ` + zonedReminderTime + `
			AND strftime(` + reminderTimeLayout + `, remind_time) IS NOT NULL`,
		// no zone, read as server local time
		`UPDATE reminders SET remind_time = strftime(` + reminderTimeLayout + `, remind_time, 'utc')
			WHERE typeof(remind_time) = 'text' AND NOT ` + zonedReminderTime + `
			AND strftime(` + reminderTimeLayout + `, remind_time, 'utc') IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("normalize reminder times: %w", err)
		}
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, columnType string) error {
	rows, err := db.Query(fmt.Sprintf(`SELECT %s FROM %s LIMIT 1`, column, table))
	if err == nil {
		return rows.Close()
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, columnType)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
