package loader

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

var (
	intCell   = regexp.MustCompile(`^[+-]?\d+$`)
	floatCell = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?$`)
)

// readXLSX decodes one sheet. The first row is the header.
func readXLSX(ctx context.Context, path, sheet string) (*frame, error) {
	xlFile, err := excelize.OpenFile(path)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to open xlsx").
			WithContext("path", path)
	}
	defer xlFile.Close()

	if sheet == "" {
		sheet = xlFile.GetSheetName(0)
		if sheet == "" {
			sheets := xlFile.GetSheetList()
			if len(sheets) == 0 {
				return nil, lferrors.New(lferrors.CodeReadFailed, "no sheets found in xlsx file").
					WithContext("path", path)
			}
			sheet = sheets[0]
		}
	}

	rows, err := xlFile.Rows(sheet)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read rows").
			WithContext("path", path).
			WithContext("sheet", sheet)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, lferrors.New(lferrors.CodeReadFailed, "xlsx sheet is empty").
			WithContext("path", path).
			WithContext("sheet", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read header").
			WithContext("path", path)
	}

	f := &frame{columns: header}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read row").
				WithContext("path", path).
				WithContext("row", len(f.rows)+2)
		}
		if len(cols) == 0 {
			continue
		}
		f.rows = append(f.rows, cellRow(cols, len(header)))
	}
	return f, rows.Error()
}

// cellRow types the formatted cell strings of one row. Short rows are
// padded with nulls.
func cellRow(cols []string, width int) []any {
	row := make([]any, width)
	for i := 0; i < width && i < len(cols); i++ {
		row[i] = cellValue(cols[i])
	}
	return row
}

func cellValue(s string) any {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil
	case intCell.MatchString(s):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case floatCell.MatchString(s):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return s
}
