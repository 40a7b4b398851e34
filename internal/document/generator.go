package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Generator renders the job's artifacts to files ready for delivery.
type Generator interface {
	// Render writes the transcript document and, when analysis is
	// non-empty, the analysis document. Paths are the caller's to remove.
	Render(transcript, analysis, jobID string) (transcriptPath, analysisPath string, err error)
}

// MarkdownGenerator writes markdown artifacts into a temp directory.
type MarkdownGenerator struct {
	log *logrus.Entry
}

// NewMarkdownGenerator creates a MarkdownGenerator.
func NewMarkdownGenerator(log *logrus.Entry) *MarkdownGenerator {
	return &MarkdownGenerator{log: log.WithField("component", "document")}
}

// Render implements Generator.
func (g *MarkdownGenerator) Render(transcript, analysis, jobID string) (string, string, error) {
	stamp := time.Now().Format("20060102_150405")
	short := shortID(jobID)

	transcriptPath := filepath.Join(os.TempDir(), fmt.Sprintf("transcript_%s_%s.md", short, stamp))
	if err := g.writeDocument(transcriptPath, "Transcript", jobID, transcript); err != nil {
		return "", "", fmt.Errorf("failed to write transcript document: %w", err)
	}

	var analysisPath string
	if strings.TrimSpace(analysis) != "" {
		analysisPath = filepath.Join(os.TempDir(), fmt.Sprintf("analysis_%s_%s.md", short, stamp))
		if err := g.writeDocument(analysisPath, "Analysis", jobID, analysis); err != nil {
			os.Remove(transcriptPath)
			return "", "", fmt.Errorf("failed to write analysis document: %w", err)
		}
	}

	return transcriptPath, analysisPath, nil
}

func (g *MarkdownGenerator) writeDocument(path, title, jobID, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Job: %s\n\n---\n\n", jobID)
	b.WriteString(body)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return err
	}

	g.log.WithField("path", path).Info("Document created")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
