// Package warehouse streams exported datasets into ClickHouse.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

const defaultTable = "visitlens_exports"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouse writes every dataset row into one generic export table keyed by
// export name, as a JSON payload.
type ClickHouse struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// Open connects, pings and ensures the export table exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*ClickHouse, error) {
	if cfg.Addr == "" {
		return nil, errors.New("clickhouse address is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	ch := &ClickHouse{conn: conn, table: table, logger: logger}
	if err := ch.ensureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

func (c *ClickHouse) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			export_name String,
			exported_at DateTime,
			row_index UInt32,
			payload String
		) ENGINE = MergeTree()
		ORDER BY (export_name, exported_at, row_index)
	`, c.table)
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create export table: %w", err)
	}
	return nil
}

// Insert appends rows in a single batch and returns how many were sent.
func (c *ClickHouse) Insert(ctx context.Context, name string, columns []string, rows [][]string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (export_name, exported_at, row_index, payload)", c.table))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	exportedAt := time.Now().UTC()
	for i, row := range rows {
		payload, err := Payload(columns, row)
		if err != nil {
			return 0, err
		}
		if err := batch.Append(name, exportedAt, uint32(i), payload); err != nil {
			return 0, fmt.Errorf("append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}

	c.logger.Info("Warehouse export sent", slog.String("export", name), slog.Int("rows", len(rows)))
	return len(rows), nil
}

// Ping checks the connection is still usable.
func (c *ClickHouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close releases the connection.
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

// Payload encodes one row as a JSON object keyed by column.
func Payload(columns []string, row []string) (string, error) {
	if len(row) != len(columns) {
		return "", fmt.Errorf("row has %d values for %d columns", len(row), len(columns))
	}
	obj := make(map[string]string, len(columns))
	for i, col := range columns {
		obj[col] = row[i]
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
