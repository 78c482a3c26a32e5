package main

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	// Registers the "postgres" database/sql driver used by sqlx and goose.
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// In order to connect to Postgresql you need to fill out all the fields.
//
// To connect to sqlite, you just need to specify the "sqlite" driver.
// By default it will use an in-memory database. You can provide
// HUBNODE_DATABASE_NAME to use a file.
type DatabaseConfig struct {
	URL      string `env:"HUBNODE_DATABASE_URL" env-default:""`
	Name     string `env:"HUBNODE_DATABASE_NAME" env-default:""`
	Schema   string `env:"HUBNODE_DATABASE_SCHEMA" env-default:""`
	Driver   string `env:"HUBNODE_DATABASE_DRIVER" env-default:"postgres"`
	Username string `env:"HUBNODE_DATABASE_USERNAME"  env-default:"postgres"`
	Password string `env:"HUBNODE_DATABASE_PASSWORD" env-default:"postgres"`
	Host     string `env:"HUBNODE_DATABASE_HOST" env-default:"localhost"`
	Port     string `env:"HUBNODE_DATABASE_PORT" env-default:"5432"`
	Retries  int    `env:"HUBNODE_DATABASE_RETRIES" env-default:"5"`
}

// ParseConnectionString parses a PostgreSQL URI and returns a DatabaseConfig
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	// SQLite detection: starts with "file:"
	if strings.HasPrefix(connStr, "file:") {
		parts := strings.SplitN(connStr[5:], "?", 2)
		dbName := parts[0]
		return DatabaseConfig{
			Name:    dbName,
			Driver:  "sqlite",
			Retries: 1,
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}

	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	user := parsedURL.User
	username := ""
	password := ""
	if user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	host := parsedURL.Hostname()
	port := parsedURL.Port()
	if port == "" {
		port = "5432" // default PostgreSQL port
	}

	dbName := strings.TrimPrefix(parsedURL.Path, "/")

	schemaName := ""
	retries := 5

	query := parsedURL.Query()
	if s := query.Get("search_path"); s != "" {
		schemaName = s
	}
	if r := query.Get("retries"); r != "" {
		if retryVal, err := strconv.Atoi(r); err == nil {
			retries = retryVal
		}
	}

	return DatabaseConfig{
		Name:     dbName,
		Schema:   schemaName,
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     host,
		Port:     port,
		Retries:  retries,
	}, nil
}

func ConnectToDB(cnf DatabaseConfig) (*gorm.DB, error) {
	switch cnf.Driver {
	case "postgres":
		return connectToPostgresql(cnf)
	case "sqlite", "":
		return connectToSqlite(cnf)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func connectToPostgresql(cnf DatabaseConfig) (*gorm.DB, error) {
	log.Println("connecting to Postgresql")
	if err := ensurePostgresqlSchema(cnf); err != nil {
		return nil, fmt.Errorf("failed to ensure Postgresql schema: %w", err)
	}

	if err := migratePostgres(cnf); err != nil {
		return nil, fmt.Errorf("failed to apply Postgresql migrations: %w", err)
	}

	dsn, err := postgresqlDbUrl(cnf)
	if err != nil {
		return nil, err
	}
	dial := postgres.Open(dsn)

	db, err := gorm.Open(dial, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cnf.Schema + ".", // schema name
		}})
	if err != nil {
		return nil, err
	}

	return db, nil
}

func connectToSqlite(cnf DatabaseConfig) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		log.Println("connecting to sqlite")
		dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
	} else {
		log.Println("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared"
	}
	dial := sqlite.Open(dsn)

	db, err := gorm.Open(dial, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cnf.Schema + ".", // schema name
		}})
	if err != nil {
		return nil, err
	}

	if err := migrateSqlite(db); err != nil {
		return nil, err
	}

	return db, nil
}

func postgresqlDbUrl(cnf DatabaseConfig) (string, error) {
	switch cnf.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
			cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
		)

		if cnf.Schema != "" {
			dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
		}

		return dsn, nil

	default:
		return "", fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func ensurePostgresqlSchema(cnf DatabaseConfig) error {
	if cnf.Schema == "" {
		log.Println("No schema specified, skipping schema creation")
		return nil
	}

	dbConf := cnf
	dbConf.Schema = ""
	dsn, err := postgresqlDbUrl(dbConf)
	if err != nil {
		return err
	}

	db, err := sqlx.Connect(dbConf.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	queryDbCheck := fmt.Sprintf("SELECT 1 FROM information_schema.schemata WHERE schema_name='%s'", cnf.Schema)
	if res, err := db.Exec(queryDbCheck); err != nil {
		return fmt.Errorf("error while checking schema existance: %s", err.Error())
	} else if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("error while checking schema existance: %s", err.Error())
	} else if rows > 0 {
		log.Printf("Schema already exists: %s\n", cnf.Schema)
		return nil
	}

	if _, err = db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cnf.Schema)); err != nil {
		return fmt.Errorf("error while creating schema: %s", err.Error())
	}

	log.Printf("Schema created: %s\n", cnf.Schema)
	return nil
}

func migratePostgres(cnf DatabaseConfig) error {
	dsn, err := postgresqlDbUrl(cnf)
	if err != nil {
		return err
	}

	db, err := goose.OpenDBWithDriver(cnf.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if cnf.Schema != "" {
		if _, err := db.Exec(fmt.Sprintf("SET search_path TO %s", cnf.Schema)); err != nil {
			return fmt.Errorf("failed to set search path: %v", err)
		}
	}

	log.Println("Applying database migrations")
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "config/migrations/"+cnf.Driver); err != nil {
		return err
	}

	log.Println("Applied migrations")
	return nil
}

func migrateSqlite(db *gorm.DB) error {
	return db.AutoMigrate(&Channel{}, &ChannelSignature{}, &LedgerAccount{}, &LedgerTransaction{}, &QueuedTransfer{}, &WebhookEvent{})
}
