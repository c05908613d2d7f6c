// Package validation checks paths and column names before a search runs.
package validation

import (
	"os"
	"path/filepath"
	"unicode/utf8"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 4096

// MaxColumnNameLength is the maximum column name length.
const MaxColumnNameLength = 256

// CleanPath returns path as a clean absolute path.
func CleanPath(path string) (string, error) {
	if path == "" {
		return "", lferrors.InvalidConfiguration("empty file path")
	}
	if len(path) > MaxPathLength {
		return "", lferrors.InvalidConfiguration("path too long").
			WithContext("maxLength", MaxPathLength)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", lferrors.Wrap(err, lferrors.CodeInvalidConfiguration, "invalid path").
			WithContext("path", path)
	}
	return abs, nil
}

// ValidateInputFile checks that an input file exists and can be opened.
func ValidateInputFile(path string) error {
	clean, err := CleanPath(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(clean)
	if os.IsNotExist(err) {
		return lferrors.New(lferrors.CodeReadFailed, "file not found").
			WithContext("path", path)
	}
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeReadFailed, "cannot access file").
			WithContext("path", path)
	}
	if info.IsDir() {
		return lferrors.New(lferrors.CodeReadFailed, "path is a directory, expected file").
			WithContext("path", path)
	}

	file, err := os.Open(clean)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeReadFailed, "cannot open file").
			WithContext("path", path)
	}
	return file.Close()
}

// ValidateOutputDir checks that dir is a directory or can be created as one.
func ValidateOutputDir(dir string) error {
	clean, err := CleanPath(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(clean)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "cannot access output directory").
			WithContext("path", dir)
	}
	if !info.IsDir() {
		return lferrors.New(lferrors.CodeWriteFailed, "output path is not a directory").
			WithContext("path", dir)
	}
	return nil
}

// ValidateColumnName checks a column name.
func ValidateColumnName(name string) error {
	if name == "" {
		return lferrors.InvalidConfiguration("empty column name")
	}
	if len(name) > MaxColumnNameLength {
		return lferrors.InvalidConfiguration("column name too long").
			WithContext("name", name[:50]+"...").
			WithContext("maxLength", MaxColumnNameLength)
	}
	if !utf8.ValidString(name) {
		return lferrors.InvalidConfiguration("column name contains invalid UTF-8")
	}
	return nil
}
