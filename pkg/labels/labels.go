// Package labels holds the output of a label search: one record per
// accepted window plus the settings that reproduce it.
//
// Transforms never modify their receiver; each returns a new LabelTimes with
// the transform appended to its settings.
package labels

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// SchemaVersion is the version of the settings.json layout.
const SchemaVersion = "0.1.0"

// Version is the labelflow release recorded in settings.
var Version = "0.1.0"

// Target types.
const (
	Discrete   = "discrete"
	Continuous = "continuous"
)

// Record is one labelled cutoff for an entity.
type Record struct {
	Entity string
	Time   model.Index
	Labels map[string]any
}

// SearchSettings are the search parameters as they were resolved, kept as
// strings so they survive a round trip through settings.json.
type SearchSettings struct {
	WindowSize             string `json:"window_size"`
	Gap                    string `json:"gap"`
	MinimumData            string `json:"minimum_data"`
	MaximumData            string `json:"maximum_data"`
	NumExamplesPerInstance string `json:"num_examples_per_instance"`

	// MinimumDataByEntity holds per-entity minimum data when the search
	// was given one cutoff per entity.
	MinimumDataByEntity map[string]string `json:"minimum_data_by_entity,omitempty"`
}

// Transform records one applied transform. The "transform" key names it.
type Transform map[string]any

// Name returns the transform name.
func (t Transform) Name() string {
	name, _ := t["transform"].(string)
	return name
}

// Settings describe how a LabelTimes was produced.
type Settings struct {
	RunID          string            `json:"run_id"`
	TargetEntity   string            `json:"target_dataframe_name"`
	IndexKind      string            `json:"index_kind"`
	TargetColumns  []string          `json:"target_columns"`
	TargetTypes    map[string]string `json:"target_types"`
	SearchSettings SearchSettings    `json:"search_settings"`
	Transforms     []Transform       `json:"transforms"`
}

// LabelTimes is the labelled example table.
type LabelTimes struct {
	Records  []Record
	Settings Settings
}

// New builds label times and infers the target types. Columns fixes the
// order of the targets; label values are normalised to int64, float64,
// bool or string.
func New(entity string, kind model.IndexKind, columns []string, records []Record, search SearchSettings) *LabelTimes {
	for i := range records {
		for k, v := range records[i].Labels {
			records[i].Labels[k] = normalize(v)
		}
	}

	lt := &LabelTimes{
		Records: records,
		Settings: Settings{
			RunID:          uuid.NewString(),
			TargetEntity:   entity,
			IndexKind:      kind.String(),
			TargetColumns:  append([]string(nil), columns...),
			TargetTypes:    make(map[string]string, len(columns)),
			SearchSettings: search,
		},
	}
	for _, c := range columns {
		lt.Settings.TargetTypes[c] = targetType(lt.dtype(c))
	}
	return lt
}

// Len returns the number of records.
func (lt *LabelTimes) Len() int {
	return len(lt.Records)
}

// Empty reports whether no windows were labelled.
func (lt *LabelTimes) Empty() bool {
	return len(lt.Records) == 0
}

// Kind returns the index kind of the cutoff times.
func (lt *LabelTimes) Kind() model.IndexKind {
	if lt.Settings.IndexKind == model.IndexTime.String() {
		return model.IndexTime
	}
	return model.IndexPosition
}

// Values returns one target column in record order.
func (lt *LabelTimes) Values(column string) []any {
	out := make([]any, len(lt.Records))
	for i, r := range lt.Records {
		out[i] = r.Labels[column]
	}
	return out
}

// IsDiscrete reports whether a target holds categories.
func (lt *LabelTimes) IsDiscrete(column string) bool {
	return lt.Settings.TargetTypes[column] == Discrete
}

// Clone returns a deep copy with a fresh transform list.
func (lt *LabelTimes) Clone() *LabelTimes {
	out := &LabelTimes{
		Records:  make([]Record, len(lt.Records)),
		Settings: lt.Settings,
	}
	for i, r := range lt.Records {
		labels := make(map[string]any, len(r.Labels))
		for k, v := range r.Labels {
			labels[k] = v
		}
		out.Records[i] = Record{Entity: r.Entity, Time: r.Time, Labels: labels}
	}

	out.Settings.TargetColumns = append([]string(nil), lt.Settings.TargetColumns...)
	out.Settings.TargetTypes = make(map[string]string, len(lt.Settings.TargetTypes))
	for k, v := range lt.Settings.TargetTypes {
		out.Settings.TargetTypes[k] = v
	}
	out.Settings.Transforms = append([]Transform(nil), lt.Settings.Transforms...)
	return out
}

// Select keeps a single target column out of several.
func (lt *LabelTimes) Select(target string) (*LabelTimes, error) {
	if len(lt.Settings.TargetColumns) == 1 {
		return nil, lferrors.New(lferrors.CodeInvalidLabelTime, "only one target exists")
	}
	if !lt.hasTarget(target) {
		return nil, lferrors.New(lferrors.CodeInvalidLabelTime, "target not found").
			WithContext("target", target).
			WithContext("targets", lt.Settings.TargetColumns)
	}

	out := lt.Clone()
	for _, r := range out.Records {
		for k := range r.Labels {
			if k != target {
				delete(r.Labels, k)
			}
		}
	}
	out.Settings.TargetColumns = []string{target}
	out.Settings.TargetTypes = map[string]string{target: lt.Settings.TargetTypes[target]}
	return out, nil
}

// Target returns the single target column, failing when there are several.
func (lt *LabelTimes) Target() (string, error) {
	if len(lt.Settings.TargetColumns) != 1 {
		return "", lferrors.New(lferrors.CodeInvalidLabelTime, "must first select an individual target").
			WithContext("targets", lt.Settings.TargetColumns)
	}
	return lt.Settings.TargetColumns[0], nil
}

// Dtypes returns the storage type of every column, for settings.json.
func (lt *LabelTimes) Dtypes() map[string]string {
	out := map[string]string{
		lt.Settings.TargetEntity: "string",
		"time":                   "int64",
	}
	if lt.Kind() == model.IndexTime {
		out["time"] = "timestamp"
	}
	for _, c := range lt.Settings.TargetColumns {
		out[c] = lt.dtype(c)
	}
	return out
}

func (lt *LabelTimes) hasTarget(name string) bool {
	for _, c := range lt.Settings.TargetColumns {
		if c == name {
			return true
		}
	}
	return false
}

// dtype is the narrowest storage type that holds every non-null value.
func (lt *LabelTimes) dtype(column string) string {
	dtype := ""
	for _, r := range lt.Records {
		var t string
		switch r.Labels[column].(type) {
		case nil:
			continue
		case bool:
			t = "bool"
		case int64:
			t = "int64"
		case float64:
			t = "float64"
		default:
			t = "string"
		}
		switch {
		case dtype == "" || dtype == t:
			dtype = t
		case isNumeric(dtype) && isNumeric(t):
			dtype = "float64"
		default:
			return "string"
		}
	}
	if dtype == "" {
		return "float64"
	}
	return dtype
}

func isNumeric(dtype string) bool {
	return dtype == "int64" || dtype == "float64"
}

func targetType(dtype string) string {
	if isNumeric(dtype) {
		return Continuous
	}
	return Discrete
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	}
	return fmt.Sprintf("%v", v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
