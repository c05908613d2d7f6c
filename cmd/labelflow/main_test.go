package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/labelflow/pkg/config"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/labels"
)

func TestParseExamples(t *testing.T) {
	got, err := parseExamples(" inf ")
	require.NoError(t, err)
	assert.Equal(t, "inf", got)

	got, err = parseExamples("true=1, false=2")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"true": "1", "false": "2"}, got)

	_, err = parseExamples("true=1,=2")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidTarget))
}

func TestParseLabels(t *testing.T) {
	got, err := parseLabels([]string{
		"total=sum:amount",
		"n=count",
		`big=expr:sum("amount") >= 100`,
	})
	require.NoError(t, err)
	assert.Equal(t, []config.FunctionConfig{
		{Name: "total", Func: "sum", Column: "amount"},
		{Name: "n", Func: "count"},
		{Name: "big", Expr: `sum("amount") >= 100`},
	}, got)

	for _, bad := range []string{"sum:amount", "=count", "total="} {
		_, err := parseLabels([]string{bad})
		assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFunction), bad)
	}
}

func TestParseFloats(t *testing.T) {
	got, err := parseFloats("0, 0.5,1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, got)

	got, err = parseFloats("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseFloats("1,x")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration))
}

func TestSearchAndDescribe(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	input := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(input, []byte(
		"customer_id,time,amount\n"+
			"0,2014-01-01 08:00:00,1.0\n"+
			"0,2014-01-01 08:30:00,1.0\n"+
			"0,2014-01-01 09:00:00,2.0\n"+
			"1,2014-01-01 08:00:00,2.5\n"), 0o644))
	out := filepath.Join(dir, "labels")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{
		"search", "-i", input, "--entity", "customer_id", "--window", "1h",
		"--examples", "inf", "--label", "total=sum:amount",
		"-o", out, "--no-progress", "--log-level", "error",
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "SEARCH COMPLETE")
	assert.FileExists(t, filepath.Join(out, labels.CSVFile))
	assert.FileExists(t, filepath.Join(out, labels.SettingsFile))

	lt, err := labels.ReadCSV(out)
	require.NoError(t, err)
	require.Equal(t, 3, lt.Len())
	assert.Equal(t, []any{2.0, 2.0, 2.5}, lt.Values("total"))

	stdout.Reset()
	rootCmd.SetArgs([]string{"describe", "-i", out})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "window_size")
	assert.Contains(t, stdout.String(), "No transforms applied")
}

func TestRootHelpLayering(t *testing.T) {
	long := strings.Join(strings.Fields(rootCmd.Long), " ")
	env := strings.Index(long, "LABELFLOW_* environment variables")
	job := strings.Index(long, "the --config job file")
	flags := strings.Index(long, "command-line flags")
	require.True(t, env >= 0 && job >= 0 && flags >= 0, long)
	assert.Less(t, env, job)
	assert.Less(t, job, flags)
}
