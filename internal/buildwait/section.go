package buildwait

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// Markers delimiting the build status section in a change description.
const (
	SectionStart = "<!-- qaflow:build-status:start -->"
	SectionEnd   = "<!-- qaflow:build-status:end -->"
)

// ReplaceSection returns body with its delimited status section replaced by
// content. The last start marker followed by an end marker delimits the
// section; a body without one gets the section appended. Applying the same
// content twice yields the same body.
func ReplaceSection(body, content string) string {
	section := SectionStart + "\n" + strings.TrimSpace(content) + "\n" + SectionEnd

	start := strings.LastIndex(body, SectionStart)
	if start >= 0 {
		if rel := strings.Index(body[start:], SectionEnd); rel >= 0 {
			end := start + rel + len(SectionEnd)
			return body[:start] + section + body[end:]
		}
	}

	trimmed := strings.TrimRight(body, "\n")
	if trimmed == "" {
		return section
	}
	return trimmed + "\n\n" + section
}

// RenderStatus formats a finished build as markdown for the status section.
func RenderStatus(build qa.BuildRun) string {
	var b strings.Builder
	b.WriteString("### QA build status\n\n")

	if build.URL != "" {
		fmt.Fprintf(&b, "- **Build:** [%s](%s)\n", build.ID, build.URL)
	} else {
		fmt.Fprintf(&b, "- **Build:** %s\n", build.ID)
	}
	fmt.Fprintf(&b, "- **Result:** %s %s\n", statusIcon(build.Status), strings.ToUpper(string(build.Status)))
	if build.FinishedAt != nil {
		fmt.Fprintf(&b, "- **Finished:** %s\n", build.FinishedAt.UTC().Format(time.RFC3339))
		if !build.StartedAt.IsZero() {
			fmt.Fprintf(&b, "- **Duration:** %s\n", build.FinishedAt.Sub(build.StartedAt).Round(time.Second))
		}
	}
	return b.String()
}

func statusIcon(s qa.BuildStatus) string {
	switch s {
	case qa.BuildSuccess:
		return "✅"
	case qa.BuildFailure:
		return "❌"
	case qa.BuildAborted:
		return "⚠️"
	default:
		return "⏳"
	}
}
