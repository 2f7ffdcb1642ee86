package display

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
)

// ProgressIndicator manages multi-step progress display
type ProgressIndicator struct {
	writer     io.Writer
	totalFiles int
	current    int
	color      bool
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(w io.Writer, total int) *ProgressIndicator {
	return &ProgressIndicator{
		writer:     w,
		totalFiles: total,
		color:      ColorEnabled(w),
	}
}

// Start displays the header message
func (p *ProgressIndicator) Start() {
	fmt.Fprintf(p.writer, "Loading workflow files:\n")
}

// Step displays progress for current item: [N/Total] filename
func (p *ProgressIndicator) Step(filename string) {
	p.current++
	line := fmt.Sprintf("  [%d/%d] %s", p.current, p.totalFiles, filepath.Base(filename))
	fmt.Fprintln(p.writer, paint(p.color, color.FgCyan, line))
}

// Complete displays success message with a checkmark
func (p *ProgressIndicator) Complete() {
	fmt.Fprintf(p.writer, "%s Loaded %d workflow files\n", paint(p.color, color.FgGreen, "✓"), p.totalFiles)
}

// DisplaySingleFile shows simple loading message for single file
func DisplaySingleFile(w io.Writer, filename string) {
	fmt.Fprintf(w, "Loading workflow from %s...\n", filename)
}
