package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // pure go sqlite driver for legacy sqlite files

	"data-migration/config"
)

const sshNet = "mysql+ssh"

// OpenSource connects to the legacy database rows are read from. MySQL
// sources may be reached through an SSH bastion.
func OpenSource(ctx context.Context, cfg config.Source) (*sql.DB, error) {
	fmt.Println("⏳ Connecting to source database...")

	var (
		driver = cfg.Driver
		dsn    = cfg.DSN
	)
	if driver == "mysql" {
		var err error
		dsn, err = mysqlDSN(cfg)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open source DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping source DB: %w", err)
	}

	if cfg.SSH.Enabled() {
		log.Printf("✅ Connected to %s source through SSH tunnel %s!", driver, cfg.SSH.Host)
	} else {
		log.Printf("✅ Connected to %s source!", driver)
	}
	return db, nil
}

func mysqlDSN(cfg config.Source) (string, error) {
	mc := mysql.NewConfig()
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("failed to parse mysql dsn: %w", err)
		}
		mc = parsed
	} else {
		mc.User = cfg.User
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
	}
	if cfg.Password != "" {
		mc.Passwd = cfg.Password
	}
	mc.ParseTime = true

	if cfg.SSH.Enabled() {
		client, err := dialSSH(cfg.SSH)
		if err != nil {
			return "", err
		}
		// Register a custom dialer
		mysql.RegisterDialContext(sshNet, func(ctx context.Context, addr string) (net.Conn, error) {
			return client.DialContext(ctx, "tcp", addr)
		})
		mc.Net = sshNet
	}
	return mc.FormatDSN(), nil
}

func dialSSH(cfg config.SSH) (*ssh.Client, error) {
	// Read the private key
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	// Parse the private key
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to read known hosts: %w", err)
		}
	}

	sshConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}

	sshAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", sshAddr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	return client, nil
}

// OpenTarget connects to the database records are written into.
func OpenTarget(cfg config.Target) (*gorm.DB, error) {
	fmt.Println("⏳ Connecting to target database...")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown target driver %q", cfg.Driver)
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  LogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open target DB: %w", err)
	}

	log.Printf("✅ Connected to %s target!", cfg.Driver)
	return db, nil
}

// LogLevel maps a config log level onto gorm's.
func LogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
