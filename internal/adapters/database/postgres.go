package database

import (
	"fmt"

	"github.com/Amund211/stockpile/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const DB_NAME = "stockpile"

const LOCAL_CONNECTION_STRING = "user=postgres password=postgres dbname=stockpile sslmode=disable"

const MAIN_SCHEMA = "stockpile"
const TESTING_SCHEMA = "stockpile_test"

func GetSchemaName(isTesting bool) string {
	if isTesting {
		return TESTING_SCHEMA
	}
	return MAIN_SCHEMA
}

func ConnectionString(dbUsername, dbPassword, host string) string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s",
		dbUsername,
		dbPassword,
		DB_NAME,
		host,
	)
}

func NewPostgresDatabase(connectionString string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	err = createDatabaseIfNotExists(db, DB_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return db, nil
}

// NewPostgresDatabaseFromConfig connects to the local development database, or to DB_HOST elsewhere
func NewPostgresDatabaseFromConfig(conf config.Config) (*sqlx.DB, error) {
	connectionString := LOCAL_CONNECTION_STRING
	if !conf.IsDevelopment() {
		connectionString = ConnectionString(conf.DBUsername(), conf.DBPassword(), conf.DBHost())
	}

	db, err := NewPostgresDatabase(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres database: %w", err)
	}

	return db, nil
}

func createDatabaseIfNotExists(db *sqlx.DB, dbName string) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM pg_database WHERE datname = $1", dbName); err != nil {
		return fmt.Errorf("createDB: failed to check if database exists: %w", err)
	}

	if count > 0 {
		return nil
	}

	_, err := db.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		return fmt.Errorf("createDB: failed to create database: %w", err)
	}

	return nil
}
