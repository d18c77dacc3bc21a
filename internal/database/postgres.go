package database

import (
	"database/sql"
)

type PgRelayRepository struct {
	conn *sql.DB
}

func NewPgRelayRepository(dsn string) (*PgRelayRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRelayRepository{conn: db}, nil
}

func (db *PgRelayRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRelayRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
