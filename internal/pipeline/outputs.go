package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"carbondelay/internal/types"
)

// Step output names.
const (
	OutputDelayMinutes     = "delay_minutes"
	OutputRegion           = "region"
	OutputPercentReduction = "percent_reduction"
	OutputEnvironment      = "environment"
)

// Output is one step output.
type Output struct {
	Name  string
	Value string
}

// outputsFor renders a result as step outputs in a fixed order.
func outputsFor(res *Result) []Output {
	pct := ""
	if res.Decision.PercentReduction != nil {
		pct = strconv.FormatFloat(*res.Decision.PercentReduction, 'f', 2, 64)
	}
	return []Output{
		{Name: OutputDelayMinutes, Value: strconv.Itoa(res.Decision.DelayMinutes)},
		{Name: OutputRegion, Value: res.Region},
		{Name: OutputPercentReduction, Value: pct},
		{Name: OutputEnvironment, Value: res.Environment},
	}
}

// FileOutputWriter appends name=value lines to the file the runner names in
// GITHUB_OUTPUT. With an empty path it does nothing, which is what a local
// run wants.
type FileOutputWriter struct {
	path string
}

// NewFileOutputWriter creates a writer for path.
func NewFileOutputWriter(path string) *FileOutputWriter {
	return &FileOutputWriter{path: path}
}

// WriteOutputs appends every output in one write.
func (w *FileOutputWriter) WriteOutputs(outputs []Output) error {
	if w.path == "" {
		return nil
	}

	var b strings.Builder
	for _, o := range outputs {
		if strings.ContainsAny(o.Value, "\r\n") {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("output %s contains a newline", o.Name), nil)
		}
		fmt.Fprintf(&b, "%s=%s\n", o.Name, o.Value)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step output file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write step outputs: %w", err)
	}
	return f.Close()
}
