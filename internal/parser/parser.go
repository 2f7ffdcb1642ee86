package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/harrison/taskgraph/internal/models"
)

// Format represents the format of a workflow file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) workflow file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) workflow file
	FormatYAML
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Options carries defaults applied to tasks that leave a field unset.
type Options struct {
	DefaultMaxRetries int    // Used when neither the task nor the file sets max_retries
	DefaultTaskType   string // Used when neither the task nor the file sets task_type
}

// Parser is the interface that all workflow parsers must implement
type Parser interface {
	// Parse reads from an io.Reader and returns a parsed Workflow
	Parse(r io.Reader) (*models.Workflow, error)
}

// DetectFormat automatically detects the workflow format based on file extension
// Supported extensions:
//   - .md, .markdown -> FormatMarkdown
//   - .yaml, .yml -> FormatYAML
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format
// Returns an error if the format is unknown or unsupported
func NewParser(format Format, opts Options) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(opts), nil
	case FormatYAML:
		return NewYAMLParser(opts), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile loads a workflow from disk. A directory is treated as a split
// workflow whose numbered files (1-setup.yaml, 2-train.md, ...) are merged
// in numeric order. The absolute source path is stored in FilePath.
func ParseFile(path string, opts Options) (*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}

	if info.IsDir() {
		return ParseDirectory(path, opts)
	}

	wf, err := parseFile(path, opts)
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	wf.FilePath = absPath(path)
	return wf, nil
}

var numberedFile = regexp.MustCompile(`^(\d+)-`)

// WorkflowFiles lists the numbered workflow files of a directory
// ("01-setup.md", "2-train.yaml") in numeric order. Hidden files and
// files with an unknown extension are skipped.
func WorkflowFiles(dirname string) ([]string, error) {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	type workflowFile struct {
		index int
		path  string
	}

	var files []workflowFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		match := numberedFile.FindStringSubmatch(entry.Name())
		if match == nil || DetectFormat(entry.Name()) == FormatUnknown {
			continue
		}

		index, _ := strconv.Atoi(match[1])
		files = append(files, workflowFile{index, filepath.Join(dirname, entry.Name())})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].index < files[j].index })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// ParseDirectory loads all numbered workflow files from a directory
// and merges them into a single workflow.
func ParseDirectory(dirname string, opts Options) (*models.Workflow, error) {
	files, err := WorkflowFiles(dirname)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no numbered workflow files found in %s", dirname)
	}

	var workflows []*models.Workflow
	for _, path := range files {
		wf, err := parseFile(path, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		workflows = append(workflows, wf)
	}

	merged, err := MergeWorkflows(workflows...)
	if err != nil {
		return nil, err
	}
	if merged.Name == "" {
		merged.Name = filepath.Base(dirname)
	}
	merged.FilePath = absPath(dirname)
	return merged, nil
}

// parseFile is the internal implementation that parses a single file
func parseFile(path string, opts Options) (*models.Workflow, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}

	parser, err := NewParser(format, opts)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	wf, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return wf, nil
}

// MergeWorkflows concatenates the tasks of several workflows, keeping
// declaration order. The first non-empty name wins.
func MergeWorkflows(workflows ...*models.Workflow) (*models.Workflow, error) {
	merged := &models.Workflow{}
	seen := make(map[string]bool)

	for _, wf := range workflows {
		if wf == nil {
			continue
		}
		if merged.Name == "" {
			merged.Name = wf.Name
		}
		for _, task := range wf.Tasks {
			if seen[task.ID] {
				return nil, fmt.Errorf("duplicate task id: %s", task.ID)
			}
			seen[task.ID] = true
			merged.Tasks = append(merged.Tasks, task)
		}
	}
	return merged, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
