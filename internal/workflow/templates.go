package workflow

import (
	"bytes"
	"fmt"
	"text/template"
)

// PassComment fills the QA pass comment.
type PassComment struct {
	Environment string
	Summary     string
	Steps       []string
}

// FailComment fills the QA fail comment.
type FailComment struct {
	Environment string
	Description string
	Steps       []string
	Expected    string
	Actual      string
	BuildRef    string
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

var passTemplate = template.Must(template.New("pass").Funcs(funcs).Parse(`h3. QA Validation - PASS

*Environment:* {{.Environment}}

*Verification:*
{{range .Steps}}- {{.}}
{{end}}
*Test Result:* PASS - {{.Summary}}`))

var failTemplate = template.Must(template.New("fail").Funcs(funcs).Parse(`h3. QA Validation - FAIL

*Environment:* {{.Environment}}

*Issue Found:*
{{.Description}}
{{if .Steps}}
*Steps to Reproduce:*
{{range $i, $s := .Steps}}{{inc $i}}. {{$s}}
{{end}}{{end}}
*Expected:* {{.Expected}}
*Actual:* {{.Actual}}
{{if .BuildRef}}*Build:* {{.BuildRef}}
{{end}}
*Test Result:* FAIL - Returning to development for fix.`))

// RenderPass renders the pass comment in Jira wiki markup.
func RenderPass(c PassComment) (string, error) {
	var buf bytes.Buffer
	if err := passTemplate.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("failed to render pass comment: %w", err)
	}
	return buf.String(), nil
}

// RenderFail renders the fail comment in Jira wiki markup.
func RenderFail(c FailComment) (string, error) {
	var buf bytes.Buffer
	if err := failTemplate.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("failed to render fail comment: %w", err)
	}
	return buf.String(), nil
}
