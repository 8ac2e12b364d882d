package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chstore "solana-swap-watch/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed, applies
// every embedded file and returns a connection to that database.
// ClickHouse DDL is not transactional, so every statement must be
// idempotent (IF NOT EXISTS).
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := load(clickhouseFiles, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	if err := errors.Join(createErr, admin.Close()); err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	for _, m := range files {
		stmts, err := statements(m.SQL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		for i, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s statement %d: %w", m.Version, i+1, err)
			}
		}
	}
	return conn, nil
}

// statements splits a migration into single statements; the native
// protocol runs one per Exec. Only "--" line comments are understood, and
// a ';' inside a quoted string is rejected rather than mis-split.
func statements(sql string) ([]string, error) {
	var body strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if t := strings.TrimSpace(line); t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	text := body.String()

	quoted := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\'':
			if quoted && i+1 < len(text) && text[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return nil, fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}

	var out []string
	for _, part := range strings.Split(text, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn has no database path")
	}
	return db, nil
}
