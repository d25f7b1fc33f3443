package secrets

// Rule detects one kind of credential.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`

	// Keywords gate the rule: when set, at least one must appear
	// (case-insensitively) in the text for the pattern to run.
	Keywords []string `koanf:"keywords"`
}

// DefaultRules covers the credentials of the systems qaflow talks to plus
// generic key=value assignments.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA)[A-Z0-9]{16}\b`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|secret_access_key|aws_secret_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret"},
		},
		{ID: "github-token", Pattern: `\b(?:gh[pousr]_[A-Za-z0-9]{36,255}|github_pat_[A-Za-z0-9_]{22,255})\b`},
		{ID: "atlassian-api-token", Pattern: `\bATATT[A-Za-z0-9_\-=]{20,}\b`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`},
		{
			ID:       "authorization-header",
			Pattern:  `(?i)\b(?:bearer|basic|token)\s+[A-Za-z0-9._~+/\-]{16,}=*`,
			Keywords: []string{"bearer", "basic", "token", "authorization"},
		},
		{
			ID:       "generic-secret",
			Pattern:  `(?i)\b(?:password|passwd|pwd|secret|api[_-]?key|api[_-]?token|access[_-]?token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"pass", "pwd", "secret", "key", "token"},
		},
		{ID: "url-credentials", Pattern: `\b[a-z][a-z0-9+.-]*://[^\s:/@]+:[^\s:/@]+@`},
	}
}
