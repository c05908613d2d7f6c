package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/labels"
	"github.com/logflow/labelflow/pkg/logging"
	"github.com/logflow/labelflow/pkg/tui"
)

// Describe and transform flags
var (
	labelsDir string

	selectTarget string
	threshold    float64
	lead         string
	bins         int
	edges        string
	quantiles    bool
	binLabels    []string
	leftClosed   bool
	sampleN      int
	sampleFrac   float64
	sampleSeed   int64
	replace      bool
	perInstance  bool
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe stored label times",
	Long: `Describe prints the label distribution, search settings and
transforms of a label times directory written by search.

Examples:
  labelflow describe -i labels/`,
	RunE: runDescribe,
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform stored label times",
	Long: `Transform applies, in order, target selection, threshold, lead,
binning and sampling to stored label times and writes the result.

Examples:
  labelflow transform -i labels/ --threshold 100 -o labels-bool/
  labelflow transform -i labels/ --lead 1h --bins 4 --quantiles -o labels-q/
  labelflow transform -i labels/ --sample-n 10 --seed 1 -o labels-s/`,
	RunE: runTransform,
}

func init() {
	for _, cmd := range []*cobra.Command{describeCmd, transformCmd} {
		cmd.Flags().StringVarP(&labelsDir, "input", "i", "", "Label times directory")
		_ = cmd.MarkFlagRequired("input")
	}

	fs := transformCmd.Flags()
	fs.StringVar(&selectTarget, "target", "", "Keep only this target column")
	fs.Float64Var(&threshold, "threshold", 0, "Label is true when the value is above this threshold")
	fs.StringVar(&lead, "lead", "", "Move cutoff times earlier by this duration")
	fs.IntVar(&bins, "bins", 0, "Number of bins")
	fs.StringVar(&edges, "edges", "", "Comma separated bin edges, or quantile fractions with --quantiles")
	fs.BoolVar(&quantiles, "quantiles", false, "Bin by quantiles")
	fs.StringSliceVar(&binLabels, "bin-labels", nil, "Bin names")
	fs.BoolVar(&leftClosed, "left-closed", false, "Bins are [a, b) instead of (a, b]")
	fs.IntVar(&sampleN, "sample-n", 0, "Sample this many records")
	fs.Float64Var(&sampleFrac, "sample-frac", 0, "Sample this fraction of records")
	fs.Int64Var(&sampleSeed, "seed", 0, "Random seed for sampling")
	fs.BoolVar(&replace, "replace", false, "Sample with replacement")
	fs.BoolVar(&perInstance, "per-instance", false, "Sample within each entity")
	fs.StringVarP(&outputDir, "output", "o", "", "Output directory")
	fs.StringVar(&outputFormat, "output-format", "", "Output format (csv, parquet, both)")
}

// readLabels loads a label times directory, preferring Parquet.
func readLabels(cmd *cobra.Command, dir string) (*labels.LabelTimes, error) {
	if _, err := os.Stat(filepath.Join(dir, labels.ParquetFile)); err == nil {
		return labels.ReadParquet(cmd.Context(), dir)
	}
	return labels.ReadCSV(dir)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	lt, err := readLabels(cmd, labelsDir)
	if err != nil {
		return err
	}
	d, err := lt.Describe()
	if err != nil {
		return err
	}
	tui.RenderDescription(cmd.OutOrStdout(), d)
	return nil
}

func runTransform(cmd *cobra.Command, args []string) error {
	log := logging.FromContext(cmd.Context())
	fs := cmd.Flags()

	lt, err := readLabels(cmd, labelsDir)
	if err != nil {
		return err
	}

	if selectTarget != "" {
		if lt, err = lt.Select(selectTarget); err != nil {
			return err
		}
	}
	if fs.Changed("threshold") {
		if lt, err = lt.Threshold(threshold); err != nil {
			return err
		}
	}
	if lead != "" {
		if lt, err = lt.ApplyLead(lead); err != nil {
			return err
		}
	}
	if bins > 0 || edges != "" {
		opts := labels.BinOptions{
			Bins:       bins,
			Quantiles:  quantiles,
			Labels:     binLabels,
			LeftClosed: leftClosed,
		}
		if opts.Edges, err = parseFloats(edges); err != nil {
			return err
		}
		if lt, err = lt.Bin(opts); err != nil {
			return err
		}
	}
	if sampleN > 0 || sampleFrac > 0 {
		if lt, err = lt.Sample(labels.SampleOptions{
			N:           sampleN,
			Frac:        sampleFrac,
			Seed:        sampleSeed,
			Replace:     replace,
			PerInstance: perInstance,
		}); err != nil {
			return err
		}
	}

	out := manager.Get().Output
	if outputDir != "" {
		out.Dir = outputDir
	}
	if outputFormat != "" {
		out.Format = outputFormat
	}
	if filepath.Clean(out.Dir) == filepath.Clean(labelsDir) {
		return lferrors.InvalidConfiguration("output directory must differ from input").
			WithContext("path", out.Dir)
	}
	written, err := writeLabels(lt, out)
	if err != nil {
		return err
	}
	log.Infow("transformed label times", "records", lt.Len(), "transforms", len(lt.Settings.Transforms), "output", written)
	return nil
}

func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfiguration, "invalid bin edge").
				WithContext("value", part)
		}
		out = append(out, f)
	}
	return out, nil
}
