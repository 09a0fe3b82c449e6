package sqlbase

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"time"
)

// timeLayout is fixed width so text timestamps compare correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name string

	// MigrationsTable is the DDL for the schema_migrations bookkeeping table.
	MigrationsTable string

	rebind     func(query string) string
	encodeTime func(t time.Time) any
}

// Postgres uses $N placeholders and native timestamptz columns.
var Postgres = Dialect{
	Name: "postgres",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`,
	rebind:     func(query string) string { return query },
	encodeTime: func(t time.Time) any { return t.UTC() },
}

// SQLite uses ?N placeholders and stores timestamps as fixed-width UTC text.
var SQLite = Dialect{
	Name: "sqlite",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT CURRENT_TIMESTAMP
		);
	`,
	rebind:     func(query string) string { return placeholderPattern.ReplaceAllString(query, "?$1") },
	encodeTime: func(t time.Time) any { return t.UTC().Format(timeLayout) },
}

// Rebind rewrites $N placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	return d.rebind(query)
}

// Time encodes a timestamp argument.
func (d Dialect) Time(t time.Time) any {
	return d.encodeTime(t)
}

// NullTime encodes an optional timestamp argument.
func (d Dialect) NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return d.encodeTime(*t)
}

// timeValue scans timestamps stored either natively or as text.
type timeValue struct {
	Time  time.Time
	Valid bool
}

func (tv *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		tv.Time, tv.Valid = time.Time{}, false

		return nil
	case time.Time:
		tv.Time, tv.Valid = v.UTC(), true

		return nil
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (tv *timeValue) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			tv.Time, tv.Valid = parsed.UTC(), true

			return nil
		}
	}

	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (tv timeValue) Value() (driver.Value, error) {
	if !tv.Valid {
		return nil, nil
	}

	return tv.Time, nil
}

func (tv timeValue) Ptr() *time.Time {
	if !tv.Valid {
		return nil
	}

	t := tv.Time

	return &t
}
