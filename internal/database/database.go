package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/xelth-com/tapcount/internal/config"
	"github.com/xelth-com/tapcount/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	embeddedDataPath = "./db_data"
	embeddedPort     = 5433
)

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	log      *zap.Logger
}

// cleanupStaleEmbeddedPostgres cleans up leftover processes from a previous crash
func cleanupStaleEmbeddedPostgres(log *zap.Logger) {
	pidFile := filepath.Join(embeddedDataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		// No pid file = clean state
		return
	}

	// First line of postmaster.pid is the PID
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.Warn("could not parse PID from postmaster.pid", zap.Error(err))
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		log.Info("cleaning up stale postmaster.pid", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0 to check
	if err := process.Signal(syscall.Signal(0)); err != nil {
		log.Info("cleaning up stale postmaster.pid, process not running", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	log.Warn("found orphaned PostgreSQL process, stopping it", zap.Int("pid", pid))
	if err := process.Signal(syscall.SIGTERM); err != nil {
		log.Warn("could not send SIGTERM", zap.Int("pid", pid), zap.Error(err))
	}

	// Wait up to 5 seconds for process to stop
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			log.Info("orphaned PostgreSQL process stopped")
			os.Remove(pidFile)
			return
		}
	}

	log.Warn("process did not stop gracefully, sending SIGKILL", zap.Int("pid", pid))
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Connect establishes a connection to a PostgreSQL database (external or embedded).
// Embedded mode is used for localhost without a password.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres

	isEmbedded := cfg.Host == "localhost" && cfg.Password == ""

	password := cfg.Password
	if isEmbedded {
		log.Info("mode: embedded PostgreSQL, initializing internal database")

		cleanupStaleEmbeddedPostgres(log)

		if isPortInUse(embeddedPort) {
			log.Warn("embedded port still in use, waiting for release", zap.Int("port", embeddedPort))
			for i := 0; i < 6; i++ {
				time.Sleep(500 * time.Millisecond)
				if !isPortInUse(embeddedPort) {
					break
				}
			}
			if isPortInUse(embeddedPort) {
				return nil, fmt.Errorf("port %d is still in use by another process", embeddedPort)
			}
		}

		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password("postgres")

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)

		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(embeddedPort)
		password = "postgres"
		log.Info("embedded PostgreSQL started", zap.Int("port", embeddedPort))
	} else {
		log.Info("mode: external PostgreSQL", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		password,
		cfg.Database,
	)

	logLevel := logger.Warn
	if cfg.Silent {
		logLevel = logger.Silent
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("database connection established")

	return &DB{
		DB:       db,
		embedded: embedded,
		log:      log,
	}, nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	if db.embedded != nil {
		db.log.Info("stopping embedded PostgreSQL")
		_ = db.embedded.Stop()
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate synchronizes the schema of every taproom table
func (db *DB) Migrate() error {
	return db.DB.AutoMigrate(
		&models.Zone{},
		&models.Product{},
		&models.InventorySession{},
		&models.InventoryCount{},
		&models.Keg{},
		&models.Tap{},
		&models.KegSensorReading{},
	)
}
