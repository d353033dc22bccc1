package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aidesk/internal/protocol"

	"github.com/google/uuid"
)

// FilesRoute is the URL prefix rendered artifacts are served under.
const FilesRoute = "/files"

// Renderer turns a report into a downloadable artifact and returns its URL.
type Renderer interface {
	Render(ctx context.Context, mode protocol.Mode, result *protocol.ReportResult) (string, error)
}

// TextRenderer writes reports as plain-text files under a directory.
type TextRenderer struct {
	dir string
}

// NewTextRenderer creates the output directory if needed.
func NewTextRenderer(dir string) (*TextRenderer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("generated dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generated dir: %w", err)
	}
	return &TextRenderer{dir: dir}, nil
}

// Dir returns the directory files are written to.
func (r *TextRenderer) Dir() string {
	return r.dir
}

// Render implements Renderer.
func (r *TextRenderer) Render(ctx context.Context, mode protocol.Mode, result *protocol.ReportResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_report_%s.txt", mode, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	if err := os.WriteFile(filepath.Join(r.dir, name), []byte(formatReport(result)), 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", name, err)
	}
	return FilesRoute + "/" + name, nil
}

func formatReport(result *protocol.ReportResult) string {
	var b strings.Builder
	b.WriteString(result.Title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len([]rune(result.Title))))
	b.WriteString("\n\n")
	b.WriteString(result.Summary)
	b.WriteString("\n")

	if len(result.Recommendations) > 0 {
		b.WriteString("\nRecommendations\n---------------\n")
		for i, rec := range result.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}
	if len(result.Items) > 0 {
		b.WriteString("\nItems\n-----\n")
		for _, item := range result.Items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if chart := result.Chart; chart != nil && len(chart.Values) > 0 {
		fmt.Fprintf(&b, "\nChart (%s)\n", chart.Type)
		for i, value := range chart.Values {
			label := ""
			if i < len(chart.Labels) {
				label = chart.Labels[i]
			}
			fmt.Fprintf(&b, "  %-12s %g\n", label, value)
		}
	}
	return b.String()
}
