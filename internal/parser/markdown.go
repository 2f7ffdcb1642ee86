package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/taskgraph/internal/models"
)

// MarkdownParser reads workflows written as Markdown documents. Each
// "## Task <id>: <title>" section declares one task; bold metadata lines
// such as "**Depends on**: fetch, clean" carry its fields.
type MarkdownParser struct {
	markdown goldmark.Markdown
	opts     Options
}

var (
	taskHeadingRegex = regexp.MustCompile(`^Task\s+([^\s:]+)\s*(?::\s*(.*))?$`)
	targetRegex      = regexp.MustCompile(`^(\S+?)\s*(>=|<=|==|!=|>|<)\s*(.+)$`)
	metadataRegex    = regexp.MustCompile(`(?mi)^\s*[-*]?\s*\*\*(Type|Depends on|Produces|Target|Result key|Priority|Parallel|Max retries|Status)\*\*:.*$\n?`)
)

// frontmatter holds workflow level settings from the YAML header.
type frontmatter struct {
	Name       string `yaml:"name"`
	MaxRetries *int   `yaml:"max_retries"`
	TaskType   string `yaml:"task_type"`
}

func NewMarkdownParser(opts Options) *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
		opts:     opts,
	}
}

func (p *MarkdownParser) Parse(r io.Reader) (*models.Workflow, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	wf := &models.Workflow{}
	defaults := p.opts
	content, fm := extractFrontmatter(content)
	if fm != nil {
		var meta frontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		wf.Name = meta.Name
		if meta.MaxRetries != nil {
			defaults.DefaultMaxRetries = *meta.MaxRetries
		}
		if meta.TaskType != "" {
			defaults.DefaultTaskType = meta.TaskType
		}
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))

	tasks, title, err := extractTasks(doc, content, defaults)
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = title
	}
	wf.Tasks = tasks
	return wf, nil
}

// section is a task heading and the byte range of its body.
type section struct {
	id, title  string
	start, end int
}

// extractTasks collects the task sections of a document. It also returns
// the text of the first level 1 heading for use as the workflow name.
func extractTasks(doc ast.Node, source []byte, defaults Options) ([]models.Task, string, error) {
	var sections []section
	var title string
	current := -1

	closeSection := func(heading *ast.Heading) {
		if current < 0 || heading.Lines().Len() == 0 {
			return
		}
		sections[current].end = lineStart(source, heading.Lines().At(0).Start)
		current = -1
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		if heading.Level == 1 && title == "" {
			title = strings.TrimSpace(extractText(heading, source))
		}
		if heading.Level > 2 {
			continue
		}
		closeSection(heading)
		if heading.Level != 2 || heading.Lines().Len() == 0 {
			continue
		}

		matches := taskHeadingRegex.FindStringSubmatch(strings.TrimSpace(extractText(heading, source)))
		if matches == nil {
			continue
		}
		sections = append(sections, section{
			id:    matches[1],
			title: strings.TrimSpace(matches[2]),
			start: lineEnd(source, heading.Lines().At(0).Stop),
			end:   len(source),
		})
		current = len(sections) - 1
	}

	tasks := make([]models.Task, 0, len(sections))
	for _, s := range sections {
		task, err := buildTask(s, string(source[s.start:s.end]), defaults)
		if err != nil {
			return nil, "", fmt.Errorf("task %s: %w", s.id, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, title, nil
}

func buildTask(s section, body string, defaults Options) (models.Task, error) {
	task := models.NewTask(s.id, taskContent(s.title, body))
	task.TaskType = defaults.DefaultTaskType
	task.MaxRetries = defaults.DefaultMaxRetries

	if err := parseTaskMetadata(&task, removeCodeBlocks(body)); err != nil {
		return task, err
	}
	if err := task.Validate(); err != nil {
		return task, err
	}
	return task, nil
}

// taskContent joins the title and the body with metadata lines removed.
func taskContent(title, body string) string {
	body = strings.TrimSpace(metadataRegex.ReplaceAllString(body, ""))
	switch {
	case title == "":
		return body
	case body == "":
		return title
	}
	return title + "\n\n" + body
}

func metadataField(content, name string) (string, bool) {
	re := regexp.MustCompile(`(?mi)^\s*[-*]?\s*\*\*` + regexp.QuoteMeta(name) + `\*\*:\s*(.*)$`)
	matches := re.FindStringSubmatch(content)
	if matches == nil {
		return "", false
	}
	return strings.TrimSpace(matches[1]), true
}

// parseTaskMetadata applies the bold metadata lines of a task section.
func parseTaskMetadata(task *models.Task, content string) error {
	if v, ok := metadataField(content, "Type"); ok && v != "" {
		task.TaskType = v
	}
	if v, ok := metadataField(content, "Depends on"); ok {
		task.DependsOn = parseDependencies(v)
	}
	if v, ok := metadataField(content, "Produces"); ok {
		task.Produces = strings.Trim(v, "`")
	}
	if v, ok := metadataField(content, "Target"); ok && v != "" {
		target, err := parseTarget(strings.Trim(v, "`"))
		if err != nil {
			return err
		}
		task.Target = target
	}
	if v, ok := metadataField(content, "Result key"); ok {
		task.ResultKey = strings.Trim(v, "`")
	}
	if v, ok := metadataField(content, "Priority"); ok {
		priority, err := models.ParsePriority(v)
		if err != nil {
			return err
		}
		task.Priority = priority
	}
	if v, ok := metadataField(content, "Parallel"); ok && v != "" {
		parallel, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("parallel: %w", err)
		}
		task.CanParallel = parallel
	}
	if v, ok := metadataField(content, "Max retries"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("max retries: invalid integer %q", v)
		}
		task.MaxRetries = n
	}
	if v, ok := metadataField(content, "Status"); ok && v != "" {
		task.Status = models.TaskStatus(strings.ToLower(v))
	}
	return nil
}

// parseDependencies splits "a, b" or "Task a, Task b". "none" means no dependencies.
func parseDependencies(s string) []string {
	var deps []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), "`")
		if part == "" || strings.EqualFold(part, "none") || part == "-" {
			continue
		}
		if fields := strings.Fields(part); len(fields) == 2 && strings.EqualFold(fields[0], "task") {
			part = fields[1]
		}
		deps = append(deps, part)
	}
	return deps
}

// parseTarget reads "metric op value", e.g. "accuracy >= 0.95".
func parseTarget(s string) (*models.Target, error) {
	matches := targetRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return nil, fmt.Errorf("target %q must look like \"metric >= value\"", s)
	}
	return &models.Target{
		Metric:   matches[1],
		Operator: matches[2],
		Value:    models.ParseScalar(strings.TrimSpace(matches[3])),
	}, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

// extractText extracts plain text from an AST node
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.CodeSpan, *ast.Emphasis:
			buf.WriteString(extractText(node, source))
		}
	}
	return buf.String()
}

// removeCodeBlocks strips fenced code blocks so that metadata examples
// inside them are not picked up.
func removeCodeBlocks(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if !inCodeBlock {
			result.WriteString(line)
			result.WriteString("\n")
		}
	}

	return result.String()
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	return content, nil
}

func lineStart(source []byte, pos int) int {
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}

func lineEnd(source []byte, pos int) int {
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}
