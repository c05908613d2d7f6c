package labels

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// File names inside an output directory.
const (
	SettingsFile = "settings.json"
	CSVFile      = "data.csv"
	ParquetFile  = "data.parquet"
)

// timeLayout drops the fraction when it is zero.
const timeLayout = "2006-01-02 15:04:05.999999999"

// settingsFile is the on-disk layout of settings.json.
type settingsFile struct {
	Version       string            `json:"labelflow_version"`
	SchemaVersion string            `json:"schema_version"`
	LabelTimes    Settings          `json:"label_times"`
	Dtypes        map[string]string `json:"dtypes"`
}

// WriteSettings writes settings.json into dir.
func (lt *LabelTimes) WriteSettings(dir string) error {
	data, err := json.MarshalIndent(settingsFile{
		Version:       Version,
		SchemaVersion: SchemaVersion,
		LabelTimes:    lt.Settings,
		Dtypes:        lt.Dtypes(),
	}, "", "  ")
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to encode settings")
	}
	path := filepath.Join(dir, SettingsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write settings").
			WithContext("path", path)
	}
	return nil
}

func readSettings(dir string) (*settingsFile, error) {
	path := filepath.Join(dir, SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "settings not found").
			WithContext("path", path)
	}
	var s settingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "invalid settings").
			WithContext("path", path)
	}
	return &s, nil
}

// Header returns the output column names: entity, time, then targets.
func (lt *LabelTimes) Header() []string {
	return append([]string{lt.Settings.TargetEntity, "time"}, lt.Settings.TargetColumns...)
}

// WriteCSV writes data.csv and settings.json into dir, creating it.
func (lt *LabelTimes) WriteCSV(dir string, saveSettings bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create output directory").
			WithContext("path", dir)
	}

	path := filepath.Join(dir, CSVFile)
	f, err := os.Create(path)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create label file").
			WithContext("path", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(lt.Header()); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write header")
	}
	row := make([]string, 2+len(lt.Settings.TargetColumns))
	for _, r := range lt.Records {
		row[0] = r.Entity
		row[1] = formatIndex(r.Time)
		for i, c := range lt.Settings.TargetColumns {
			row[2+i] = formatValue(r.Labels[c])
		}
		if err := w.Write(row); err != nil {
			return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write record").
				WithContext("entity", r.Entity)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to flush label file")
	}

	if saveSettings {
		return lt.WriteSettings(dir)
	}
	return nil
}

// ReadCSV restores label times written by WriteCSV.
func ReadCSV(dir string) (*LabelTimes, error) {
	settings, err := readSettings(dir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, CSVFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "data not found").
			WithContext("path", path)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "invalid label file").
			WithContext("path", path)
	}
	if len(rows) == 0 {
		return nil, lferrors.New(lferrors.CodeReadFailed, "label file has no header").
			WithContext("path", path)
	}

	lt := &LabelTimes{Settings: settings.LabelTimes}
	header := rows[0]
	kind := lt.Kind()
	for n, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, lferrors.New(lferrors.CodeReadFailed, "ragged label file").
				WithContext("line", n+2)
		}
		idx, err := parseIndex(row[1], kind)
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeInvalidLabelTime, "invalid cutoff time").
				WithContext("line", n+2)
		}
		rec := Record{Entity: row[0], Time: idx, Labels: make(map[string]any, len(header)-2)}
		for i, c := range header[2:] {
			v, err := parseValue(row[2+i], settings.Dtypes[c])
			if err != nil {
				return nil, lferrors.Wrap(err, lferrors.CodeInvalidLabelTime, "invalid label value").
					WithContext("line", n+2).
					WithContext("column", c)
			}
			rec.Labels[c] = v
		}
		lt.Records = append(lt.Records, rec)
	}
	return lt, nil
}

func formatIndex(i model.Index) string {
	if i.Kind == model.IndexTime {
		return i.Time().Format(timeLayout)
	}
	return strconv.FormatInt(i.Value, 10)
}

func parseIndex(s string, kind model.IndexKind) (model.Index, error) {
	if kind == model.IndexTime {
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return model.Index{}, err
		}
		return model.TimeIndex(t), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return model.PositionIndex(n), err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

// parseValue reads a cell back with its recorded dtype. Empty cells are null.
func parseValue(s, dtype string) (any, error) {
	if s == "" {
		return nil, nil
	}
	switch dtype {
	case "bool":
		return strconv.ParseBool(s)
	case "int64":
		return strconv.ParseInt(s, 10, 64)
	case "float64":
		return strconv.ParseFloat(s, 64)
	}
	return s, nil
}
