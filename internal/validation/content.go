package validation

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harrison/taskgraph/internal/models"
)

// Patterns that indicate a downloaded error page instead of real data.
var errorPatterns = compileAll(
	`404\s*not\s*found`,
	`page\s*not\s*found`,
	`file\s*not\s*found`,
	`access\s*denied`,
	`403\s*forbidden`,
	`500\s*internal\s*server`,
	`502\s*bad\s*gateway`,
	`503\s*service\s*unavailable`,
	`error\s*loading`,
	`failed\s*to\s*load`,
	`could\s*not\s*be\s*found`,
	`the\s*requested\s*url\s*was\s*not\s*found`,
)

var htmlPatterns = compileAll(
	`<!doctype\s+html`,
	`<html[\s>]`,
	`<head[\s>]`,
	`<body[\s>]`,
	`<script[\s>]`,
	`<style[\s>]`,
	`<meta[\s>]`,
	`<link[\s>]`,
)

const (
	errorSampleSize = 5000
	htmlSampleSize  = 2000
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchAll(patterns []*regexp.Regexp, content string, limit int) []string {
	if len(content) > limit {
		content = content[:limit]
	}
	var matched []string
	for _, re := range patterns {
		if re.MatchString(content) {
			matched = append(matched, re.String()[4:])
		}
	}
	return matched
}

// ErrorPageMatches returns the error-page patterns found in the first 5KB.
func ErrorPageMatches(content string) []string {
	return matchAll(errorPatterns, content, errorSampleSize)
}

// LooksLikeHTML reports whether content is HTML where contentType expects
// something else. Without a structured content type, three or more HTML
// markers are required.
func LooksLikeHTML(content, contentType string) bool {
	matched := matchAll(htmlPatterns, content, htmlSampleSize)
	switch strings.ToLower(contentType) {
	case "csv", "json", "data", "txt", "xml":
		return len(matched) > 0
	}
	return len(matched) >= 3
}

// CSVInfo describes a parsed CSV artifact. The first row is the header.
type CSVInfo struct {
	Columns []string
	Rows    int
}

// ContentTypeFor infers a content type from the file extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".txt":
		return "text"
	case ".xml":
		return "xml"
	}
	return "data"
}

// CheckFileContent verifies that the file at path holds real content of the
// declared type: no HTML or error page where data is expected, parseable
// CSV/JSON, and CSV row counts within rows.
func CheckFileContent(path, contentType string, rows models.RowSpec) error {
	if contentType == "" {
		contentType = ContentTypeFor(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return &ArtifactMissingError{Produces: "file:" + path, Path: path}
	}
	defer f.Close()

	sample := make([]byte, errorSampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("read: %v", err)}
	}
	head := string(sample[:n])

	if LooksLikeHTML(head, contentType) {
		return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("contains HTML where %s was expected", contentType)}
	}
	if matched := ErrorPageMatches(head); len(matched) > 0 {
		return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("looks like an error page (%s)", strings.Join(matched, ", "))}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("seek: %v", err)}
	}

	switch contentType {
	case "csv":
		info, err := ReadCSV(f)
		if err != nil {
			return &ArtifactInvalidError{Path: path, Reason: err.Error()}
		}
		if err := checkRows(info.Rows, rows); err != nil {
			return &ArtifactInvalidError{Path: path, Reason: err.Error()}
		}
	case "json":
		var v any
		if err := json.NewDecoder(f).Decode(&v); err != nil {
			return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
	}
	return nil
}

// ReadCSV parses r and counts data rows below the header.
func ReadCSV(r io.Reader) (CSVInfo, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return CSVInfo{}, fmt.Errorf("CSV parsing error: %w", err)
	}
	if len(records) == 0 {
		return CSVInfo{}, errors.New("CSV file is empty")
	}
	return CSVInfo{Columns: records[0], Rows: len(records) - 1}, nil
}

func checkRows(got int, spec models.RowSpec) error {
	switch spec.Mode {
	case "exact":
		if got != spec.Exact {
			return fmt.Errorf("expected %d rows, found %d", spec.Exact, got)
		}
	case "min":
		if got < spec.Min {
			return fmt.Errorf("expected at least %d rows, found %d", spec.Min, got)
		}
	case "max":
		if got > spec.Max {
			return fmt.Errorf("expected at most %d rows, found %d", spec.Max, got)
		}
	}
	return nil
}
