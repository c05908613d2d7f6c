package loader

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/logging"
)

// readDuckDB decodes a file with an in-memory DuckDB.
func readDuckDB(ctx context.Context, path string, format Format, orderBy []string) (*frame, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to open DuckDB")
	}
	defer db.Close()

	query := selectQuery(path, format, orderBy)
	logging.FromContext(ctx).Debugw("Reading events", "path", path, "format", format, "query", query)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read input").
			WithContext("path", path).
			WithContext("format", string(format))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read columns").
			WithContext("path", path)
	}

	f := &frame{columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to scan row").
				WithContext("path", path).
				WithContext("row", len(f.rows)+1)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		f.rows = append(f.rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read input").
			WithContext("path", path)
	}
	return f, nil
}

func selectQuery(path string, format Format, orderBy []string) string {
	var source string
	switch format {
	case FormatCSV:
		source = fmt.Sprintf("read_csv_auto('%s', header=true, sample_size=-1)", escapePath(path))
	case FormatTSV:
		source = fmt.Sprintf("read_csv_auto('%s', header=true, delim='\\t', sample_size=-1)", escapePath(path))
	case FormatJSON:
		source = fmt.Sprintf("read_json_auto('%s', format='auto', maximum_object_size=33554432)", escapePath(path))
	case FormatJSONL:
		source = fmt.Sprintf("read_json_auto('%s', format='newline_delimited', maximum_object_size=33554432)", escapePath(path))
	default:
		source = fmt.Sprintf("read_parquet('%s')", escapePath(path))
	}

	query := "SELECT * FROM " + source
	if len(orderBy) > 0 {
		keys := make([]string, len(orderBy))
		for i, c := range orderBy {
			keys[i] = quoteIdent(c) + " NULLS LAST"
		}
		query += " ORDER BY " + strings.Join(keys, ", ")
	}
	return query
}

// escapePath escapes a path for DuckDB SQL.
func escapePath(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// normalize maps driver values onto the field types the table carries:
// string, int64, float64, bool, time.Time or nil.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case interface{ Float64() float64 }:
		// DECIMAL columns.
		return x.Float64()
	}
	return fmt.Sprint(v)
}
