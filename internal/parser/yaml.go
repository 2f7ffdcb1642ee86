package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/harrison/taskgraph/internal/models"
)

// yamlWorkflow is the on-disk YAML workflow schema.
type yamlWorkflow struct {
	Name     string        `yaml:"name"`
	Defaults *yamlDefaults `yaml:"defaults"`
	Tasks    []yamlTask    `yaml:"tasks"`
}

type yamlDefaults struct {
	MaxRetries *int   `yaml:"max_retries"`
	TaskType   string `yaml:"task_type"`
}

type yamlTask struct {
	ID          string          `yaml:"id"`
	Content     string          `yaml:"content"`
	DependsOn   []string        `yaml:"depends_on"`
	TaskType    string          `yaml:"task_type"`
	Produces    string          `yaml:"produces"`
	Target      *models.Target  `yaml:"target"`
	ResultKey   string          `yaml:"result_key"`
	CanParallel *bool           `yaml:"can_parallel"`
	Priority    models.Priority `yaml:"priority"`
	MaxRetries  *int            `yaml:"max_retries"`
	Status      string          `yaml:"status"`
	Result      any             `yaml:"result"`
}

// YAMLParser parses YAML workflow files. Unknown fields are rejected.
type YAMLParser struct {
	opts Options
}

// NewYAMLParser creates a YAML workflow parser.
func NewYAMLParser(opts Options) *YAMLParser {
	return &YAMLParser{opts: opts}
}

// Parse decodes a YAML workflow.
func (p *YAMLParser) Parse(r io.Reader) (*models.Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var doc yamlWorkflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("workflow is empty")
		}
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	defaults := p.opts
	if doc.Defaults != nil {
		if doc.Defaults.MaxRetries != nil {
			defaults.DefaultMaxRetries = *doc.Defaults.MaxRetries
		}
		if doc.Defaults.TaskType != "" {
			defaults.DefaultTaskType = doc.Defaults.TaskType
		}
	}

	wf := &models.Workflow{Name: doc.Name, Tasks: make([]models.Task, 0, len(doc.Tasks))}
	for i, yt := range doc.Tasks {
		task, err := yt.toTask(defaults)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i+1, yt.ID, err)
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf, nil
}

func (yt yamlTask) toTask(defaults Options) (models.Task, error) {
	task := models.NewTask(yt.ID, yt.Content, yt.DependsOn...)
	task.TaskType = yt.TaskType
	if task.TaskType == "" {
		task.TaskType = defaults.DefaultTaskType
	}
	task.Produces = yt.Produces
	task.Target = yt.Target
	task.ResultKey = yt.ResultKey
	task.Priority = yt.Priority
	task.MaxRetries = defaults.DefaultMaxRetries
	if yt.MaxRetries != nil {
		task.MaxRetries = *yt.MaxRetries
	}
	if yt.CanParallel != nil {
		task.CanParallel = *yt.CanParallel
	}
	if yt.Status != "" {
		task.Status = models.TaskStatus(yt.Status)
	}
	task.Result = yt.Result

	if err := task.Validate(); err != nil {
		return task, err
	}
	return task, nil
}
