package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

var (
	ErrInputFileNotFound   = errors.New("input file not found")
	ErrInputFilePermission = errors.New("permission denied reading input file")
	ErrInputFileEmpty      = errors.New("input file contains no URLs")
)

// InputFileError ties an input file failure to the file.
type InputFileError struct {
	Path string
	Err  error
}

func (e *InputFileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Path)
}

func (e *InputFileError) Unwrap() error {
	return e.Err
}

// ParseInputFile reads one URL per line from path. Blank lines and lines
// starting with # are skipped.
func ParseInputFile(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return nil, &InputFileError{Path: path, Err: ErrInputFileNotFound}
	case os.IsPermission(err):
		return nil, &InputFileError{Path: path, Err: ErrInputFilePermission}
	case err != nil:
		return nil, &InputFileError{Path: path, Err: err}
	}

	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, &InputFileError{Path: path, Err: err}
	}
	if len(urls) == 0 {
		return nil, &InputFileError{Path: path, Err: ErrInputFileEmpty}
	}
	return urls, nil
}
