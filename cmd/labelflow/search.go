package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/logflow/labelflow/internal/model"
	"github.com/logflow/labelflow/pkg/config"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/funcs"
	"github.com/logflow/labelflow/pkg/labeler"
	"github.com/logflow/labelflow/pkg/labels"
	"github.com/logflow/labelflow/pkg/loader"
	"github.com/logflow/labelflow/pkg/logging"
	"github.com/logflow/labelflow/pkg/offset"
	"github.com/logflow/labelflow/pkg/tui"
)

// Search and slice flags
var (
	inputFile    string
	inputFormat  string
	inputSheet   string
	entityColumn string
	timeIndex    string
	sortInput    bool

	windowSize   string
	windowColumn string
	gap          string
	minimumData  string
	maximumData  string
	numExamples  string
	cutoffsFile  string
	cutoffColumn string
	labelSpecs   []string
	workers      int
	keepEmpty    bool
	positivity   string

	outputDir    string
	outputFormat string
	noSettings   bool
	noProgress   bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search an event table for label times",
	Long: `Search slides windows over the events of each entity and applies the
labeling functions to every window.

Labels are given as name=func[:column] or name=expr:<expression>.
Built-in functions: count, exists, sum, mean, median, std, min, max,
first, last, nunique.

Examples:
  labelflow search -i transactions.csv --entity customer_id --window 2h \
      --label total=sum:amount --examples inf -o labels/
  labelflow search -i events.parquet --entity user --window 1d --gap 12h \
      --min-data 2014-01-01 --label 'churn=expr:rows == 0' --examples 2
  labelflow search -c job.yaml --workers 8`,
	RunE: runSearch,
}

var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Print the windows a search would label",
	Long: `Slice prints the windows of each entity without labeling them.
A per-label --examples map is not allowed here.

Examples:
  labelflow slice -i transactions.csv --entity customer_id --window 2 --examples 3`,
	RunE: runSlice,
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, sliceCmd} {
		addInputFlags(cmd.Flags())
		addWindowFlags(cmd.Flags())
	}

	searchCmd.Flags().StringVar(&cutoffsFile, "cutoffs", "", "Table of per-entity minimum data (entity column + cutoff column)")
	searchCmd.Flags().StringVar(&cutoffColumn, "cutoff-column", "", "Cutoff value column in --cutoffs")
	searchCmd.Flags().StringArrayVarP(&labelSpecs, "label", "l", nil, "Labeling function name=func[:column] or name=expr:<code> (repeatable)")
	searchCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Entities searched in parallel")
	searchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory")
	searchCmd.Flags().StringVar(&outputFormat, "output-format", "", "Output format (csv, parquet, both)")
	searchCmd.Flags().BoolVar(&noSettings, "no-settings", false, "Do not write settings.json")
	searchCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Hide the progress bar")
}

func addInputFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&inputFile, "input", "i", "", "Input event table")
	fs.StringVarP(&inputFormat, "format", "f", "", "Input format (csv, tsv, json, jsonl, parquet, xlsx) - auto-detected if not specified")
	fs.StringVar(&inputSheet, "sheet", "", "XLSX sheet name")
	fs.StringVarP(&entityColumn, "entity", "e", "", "Entity column")
	fs.StringVarP(&timeIndex, "time", "t", "", "Time index column")
	fs.BoolVar(&sortInput, "sort", false, "Sort rows by entity and time before searching")
}

func addWindowFlags(fs *pflag.FlagSet) {
	fs.StringVar(&windowSize, "window", "", "Window size: rows (2), duration (2h) or frequency (1MS)")
	fs.StringVar(&windowColumn, "window-column", "", "Group windows by this column")
	fs.StringVarP(&gap, "gap", "g", "", "Distance between window starts")
	fs.StringVar(&minimumData, "min-data", "", "Data before the first window: offset or timestamp")
	fs.StringVar(&maximumData, "max-data", "", "Data after the first window start to search")
	fs.StringVarP(&numExamples, "examples", "n", "", "Examples per entity: count, inf, or label=count,...")
	fs.BoolVar(&keepEmpty, "keep-empty", false, "Also yield windows without events")
	fs.StringVar(&positivity, "positivity", "", "Window size and gap sign policy (strict-positive, non-negative)")
}

// applyFlags layers the changed command-line flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	str := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	anyStr := func(name string, dst *any, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}

	str("input", &cfg.Input.Path, inputFile)
	str("format", &cfg.Input.Format, inputFormat)
	str("sheet", &cfg.Input.Sheet, inputSheet)
	str("entity", &cfg.Input.EntityColumn, entityColumn)
	str("time", &cfg.Input.TimeIndex, timeIndex)
	if fs.Changed("sort") {
		cfg.Input.Sort = sortInput
	}

	anyStr("window", &cfg.Search.WindowSize, windowSize)
	str("window-column", &cfg.Search.WindowColumn, windowColumn)
	anyStr("gap", &cfg.Search.Gap, gap)
	anyStr("min-data", &cfg.Search.MinimumData, minimumData)
	anyStr("max-data", &cfg.Search.MaximumData, maximumData)
	if fs.Changed("examples") {
		target, err := parseExamples(numExamples)
		if err != nil {
			return err
		}
		cfg.Search.NumExamplesPerInstance = target
	}
	if fs.Changed("keep-empty") {
		cfg.Search.KeepEmpty = keepEmpty
	}
	str("positivity", &cfg.Search.Positivity, positivity)

	if cmd != searchCmd {
		return nil
	}
	str("cutoffs", &cfg.Input.Cutoffs, cutoffsFile)
	str("cutoff-column", &cfg.Input.CutoffColumn, cutoffColumn)
	if fs.Changed("label") {
		fns, err := parseLabels(labelSpecs)
		if err != nil {
			return err
		}
		cfg.Labels = fns
	}
	if fs.Changed("workers") {
		cfg.Search.Workers = workers
	}
	str("output", &cfg.Output.Dir, outputDir)
	str("output-format", &cfg.Output.Format, outputFormat)
	if fs.Changed("no-settings") {
		cfg.Output.SkipSettings = noSettings
	}
	return nil
}

// parseExamples reads --examples. "true=1,false=2" is a per-label map;
// anything else is handed to the search as is.
func parseExamples(s string) (any, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "=") {
		return s, nil
	}
	byLabel := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		label, count, ok := strings.Cut(part, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, lferrors.New(lferrors.CodeInvalidTarget, "invalid per-label example count").
				WithContext("value", part)
		}
		byLabel[label] = strings.TrimSpace(count)
	}
	return byLabel, nil
}

// parseLabels reads --label values.
//
//	total=sum:amount   builtin over a column
//	n=count            builtin over rows
//	big=expr:sum("amount") > 100
func parseLabels(specs []string) ([]config.FunctionConfig, error) {
	out := make([]config.FunctionConfig, 0, len(specs))
	for _, spec := range specs {
		name, def, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(def) == "" {
			return nil, lferrors.New(lferrors.CodeInvalidFunction, "label must be name=func[:column] or name=expr:<code>").
				WithContext("label", spec)
		}
		fn := config.FunctionConfig{Name: name}
		if code, isExpr := strings.CutPrefix(def, "expr:"); isExpr {
			fn.Expr = code
		} else {
			f, column, _ := strings.Cut(def, ":")
			fn.Func = strings.TrimSpace(f)
			fn.Column = strings.TrimSpace(column)
		}
		out = append(out, fn)
	}
	return out, nil
}

// resolve returns the effective configuration of a search or slice.
func resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg := *manager.Get()
	cfg.Labels = append([]config.FunctionConfig(nil), cfg.Labels...)
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadTable(cmd *cobra.Command, cfg *config.Config) (*model.Table, error) {
	return loader.Load(cmd.Context(), loader.Options{
		Path:         cfg.Input.Path,
		Format:       cfg.Input.Format,
		EntityColumn: cfg.Input.EntityColumn,
		TimeIndex:    cfg.Input.TimeIndex,
		Sort:         cfg.Input.Sort,
		Sheet:        cfg.Input.Sheet,
	})
}

func newMaker(cfg *config.Config, fns []labeler.LabelingFunction) *labeler.Maker {
	return &labeler.Maker{
		EntityColumn: cfg.Input.EntityColumn,
		TimeIndex:    cfg.Input.TimeIndex,
		Functions:    fns,
		WindowSize:   cfg.Search.WindowSize,
		WindowColumn: cfg.Search.WindowColumn,
		Positivity:   offset.ParsePositivity(cfg.Search.Positivity),
	}
}

func searchOptions(cfg *config.Config) labeler.SearchOptions {
	return labeler.SearchOptions{
		NumExamplesPerInstance: cfg.Search.NumExamplesPerInstance,
		MinimumData:            cfg.Search.MinimumData,
		MaximumData:            cfg.Search.MaximumData,
		Gap:                    cfg.Search.Gap,
		KeepEmpty:              cfg.Search.KeepEmpty,
		Workers:                cfg.Search.Workers,
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	started := time.Now()

	cfg, err := resolve(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fns, err := funcs.Build(cfg.Labels)
	if err != nil {
		return err
	}
	table, err := loadTable(cmd, cfg)
	if err != nil {
		return err
	}
	log.Infow("loaded events", "path", cfg.Input.Path, "rows", table.Len())

	opts := searchOptions(cfg)
	if cfg.Input.Cutoffs != "" {
		column := cfg.Input.CutoffColumn
		if column == "" {
			column = cfg.Input.TimeIndex
		}
		opts.MinimumDataByEntity, err = loader.LoadCutoffs(ctx, loader.CutoffOptions{
			Path:         cfg.Input.Cutoffs,
			EntityColumn: cfg.Input.EntityColumn,
			ValueColumn:  column,
		})
		if err != nil {
			return err
		}
		opts.MinimumData = nil
	}
	if !noProgress {
		opts.Progress = tui.NewProgress("searching")
	}

	lt, err := newMaker(cfg, fns).Search(ctx, table, opts)
	if err != nil {
		return err
	}

	written, err := writeLabels(lt, cfg.Output)
	if err != nil {
		return err
	}

	count, err := lt.Count()
	if err != nil {
		return err
	}
	tui.PrintSearchReport(cmd.OutOrStdout(), &tui.SearchReport{
		Entities: len(count),
		Records:  lt.Len(),
		Output:   written,
		Duration: time.Since(started),
	})
	return nil
}

// writeLabels writes label times in the configured formats and returns
// the data files written.
func writeLabels(lt *labels.LabelTimes, out config.OutputConfig) ([]string, error) {
	settings := !out.SkipSettings

	var written []string
	format := strings.ToLower(out.Format)
	if format == "" || format == "csv" || format == "both" {
		if err := lt.WriteCSV(out.Dir, settings); err != nil {
			return nil, err
		}
		written = append(written, filepath.Join(out.Dir, labels.CSVFile))
		// Parquet sees the settings file already written.
		settings = false
	}
	if format == "parquet" || format == "both" {
		if err := lt.WriteParquet(out.Dir, settings); err != nil {
			return nil, err
		}
		written = append(written, filepath.Join(out.Dir, labels.ParquetFile))
	}
	return written, nil
}

func runSlice(cmd *cobra.Command, args []string) error {
	cfg, err := resolve(cmd)
	if err != nil {
		return err
	}
	if cfg.Input.Path == "" || cfg.Input.EntityColumn == "" {
		return lferrors.InvalidConfiguration("slice needs --input and --entity")
	}

	table, err := loadTable(cmd, cfg)
	if err != nil {
		return err
	}
	it, err := newMaker(cfg, nil).Slice(cmd.Context(), table, searchOptions(cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	n := 0
	for it.Next() {
		tui.RenderWindow(out, it.Window())
		fmt.Fprintln(out)
		n++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Fprintln(out, strconv.Itoa(n)+" windows")
	return nil
}
