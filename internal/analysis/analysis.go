package analysis

import "context"

// Analyzer produces a structured written analysis of a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, prompt string) (string, error)
}

// DefaultPrompt is the structured-report instruction used when the owner has
// not supplied custom instructions.
const DefaultPrompt = `You are an expert interview analyst. Based on the timestamped transcript below, produce a structured report with these sections:

**Summary**: three to five sentences covering what the conversation was about.
**Key Topics**: the main subjects discussed, each with the timestamp range where it appears.
**Notable Statements**: direct quotes worth highlighting, with timestamps.
**Action Items**: commitments or follow-ups mentioned, if any.
**Overall Assessment**: tone, clarity, and anything unusual.

Use the transcript's own language for the report. Be specific; cite timestamps.`
