package labels

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// readBatchSize is the number of rows per record when reading parquet.
const readBatchSize = 64 * 1024

// Schema returns the Arrow schema of the label table.
func (lt *LabelTimes) Schema() *arrow.Schema {
	dtypes := lt.Dtypes()
	timeType := arrow.DataType(arrow.PrimitiveTypes.Int64)
	if lt.Kind() == model.IndexTime {
		timeType = arrow.FixedWidthTypes.Timestamp_ns
	}

	fields := []arrow.Field{
		{Name: lt.Settings.TargetEntity, Type: arrow.BinaryTypes.String},
		{Name: "time", Type: timeType},
	}
	for _, c := range lt.Settings.TargetColumns {
		fields = append(fields, arrow.Field{Name: c, Type: arrowType(dtypes[c]), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(dtype string) arrow.DataType {
	switch dtype {
	case "bool":
		return arrow.FixedWidthTypes.Boolean
	case "int64":
		return arrow.PrimitiveTypes.Int64
	case "float64":
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.BinaryTypes.String
}

// WriteParquet writes data.parquet and settings.json into dir, creating it.
func (lt *LabelTimes) WriteParquet(dir string, saveSettings bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create output directory").
			WithContext("path", dir)
	}

	path := filepath.Join(dir, ParquetFile)
	f, err := os.Create(path)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create label file").
			WithContext("path", path)
	}
	defer f.Close()

	schema := lt.Schema()
	rec := lt.record(memory.NewGoAllocator(), schema)
	defer rec.Release()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	w, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create parquet writer")
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write parquet records")
	}
	if err := w.Close(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to close parquet writer")
	}

	if saveSettings {
		return lt.WriteSettings(dir)
	}
	return nil
}

// record builds one Arrow record holding every label.
func (lt *LabelTimes) record(mem memory.Allocator, schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	entities := b.Field(0).(*array.StringBuilder)
	for _, r := range lt.Records {
		entities.Append(r.Entity)
		switch tb := b.Field(1).(type) {
		case *array.TimestampBuilder:
			tb.Append(arrow.Timestamp(r.Time.Value))
		case *array.Int64Builder:
			tb.Append(r.Time.Value)
		}

		for i, c := range lt.Settings.TargetColumns {
			appendValue(b.Field(2+i), r.Labels[c])
		}
	}
	return b.NewRecord()
}

func appendValue(fb array.Builder, v any) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch b := fb.(type) {
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.Float64Builder:
		f, _ := toFloat(v)
		b.Append(f)
	case *array.StringBuilder:
		b.Append(formatValue(v))
	}
}

// ReadParquet restores label times written by WriteParquet.
func ReadParquet(ctx context.Context, dir string) (*LabelTimes, error) {
	settings, err := readSettings(dir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, ParquetFile)
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "data not found").
			WithContext("path", path)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, memory.NewGoAllocator())
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to open parquet reader")
	}
	table, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read parquet table")
	}
	defer table.Release()

	lt := &LabelTimes{Settings: settings.LabelTimes}
	kind := lt.Kind()

	tr := array.NewTableReader(table, readBatchSize)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		names := make([]string, rec.NumCols())
		for i := range names {
			names[i] = rec.ColumnName(i)
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			r := Record{Labels: make(map[string]any, len(names)-2)}
			for i, name := range names {
				v := cellValue(rec.Column(i), row)
				switch i {
				case 0:
					r.Entity, _ = v.(string)
				case 1:
					n, _ := v.(int64)
					r.Time = model.Index{Kind: kind, Value: n}
				default:
					r.Labels[name] = v
				}
			}
			lt.Records = append(lt.Records, r)
		}
	}
	return lt, nil
}

func cellValue(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch a := col.(type) {
	case *array.String:
		return a.Value(row)
	case *array.Boolean:
		return a.Value(row)
	case *array.Int64:
		return a.Value(row)
	case *array.Float64:
		return a.Value(row)
	case *array.Timestamp:
		return int64(a.Value(row))
	}
	return nil
}
