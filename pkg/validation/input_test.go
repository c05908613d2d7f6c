package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

func TestValidateInputFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.csv")
	require.NoError(t, os.WriteFile(file, []byte("a\n1\n"), 0o644))

	assert.NoError(t, ValidateInputFile(file))
	assert.True(t, lferrors.IsCode(ValidateInputFile(filepath.Join(dir, "missing.csv")), lferrors.CodeReadFailed))
	assert.True(t, lferrors.IsCode(ValidateInputFile(dir), lferrors.CodeReadFailed))
	assert.True(t, lferrors.IsCode(ValidateInputFile(""), lferrors.CodeInvalidConfiguration))
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidateOutputDir(dir))
	assert.NoError(t, ValidateOutputDir(filepath.Join(dir, "new")))

	file := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.True(t, lferrors.IsCode(ValidateOutputDir(file), lferrors.CodeWriteFailed))
}

func TestValidateColumnName(t *testing.T) {
	assert.NoError(t, ValidateColumnName("customer_id"))
	assert.Error(t, ValidateColumnName(""))
	assert.Error(t, ValidateColumnName(strings.Repeat("x", MaxColumnNameLength+1)))
	assert.Error(t, ValidateColumnName("bad\xff"))
}
