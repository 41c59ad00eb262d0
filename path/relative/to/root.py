<complete new file content>

Fix every listed failure. Do not remove behavior that already satisfies the specification.`

const (
	// maxPatternChars truncates each prior patch shown to the model.
	maxPatternChars = 2000
	// maxFileChars bounds the source included in one prompt.
	maxFileChars = 60000
)

// Generator produces candidate patches with a Claude model.
type Generator struct {
	client    *Client
	maxTokens int64
}

// NewGenerator creates a generator backed by client. maxTokens <= 0 uses
// DefaultMaxTokens.
func NewGenerator(client *Client, maxTokens int64) *Generator {
	return &Generator{client: client, maxTokens: maxTokens}
}

// Generate returns a patch addressing fc, informed by similar past patterns.
func (g *Generator) Generate(ctx context.Context, fc models.FailureContext, patterns []*models.Pattern) (string, error) {
	text, err := g.client.Complete(ctx, generatorSystem, repairPrompt(fc, patterns), g.maxTokens)
	if err != nil {
		return "", fmt.Errorf("generate patch: %w", err)
	}
	patch := stripFences(text)
	if strings.TrimSpace(patch) == "" {
		return "", errors.New("generator returned an empty patch")
	}
	return patch, nil
}

func repairPrompt(fc models.FailureContext, patterns []*models.Pattern) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Compliance\n\nArtifact %s scores %.2f against a target of %.2f (iteration %d).\n\n",
		fc.ArtifactID, fc.Score, fc.Target, fc.Iteration)

	b.WriteString("## Failures\n\n")
	for _, f := range fc.Failures {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Class, f.Text)
	}

	if len(patterns) > 0 {
		b.WriteString("\n## Similar past repairs\n")
		for _, p := range patterns {
			outcome := "this patch helped"
			if p.Kind == models.PatternFailure {
				outcome = "this patch made things worse; avoid repeating it"
			}
			patch := p.Patch
			if len(patch) > maxPatternChars {
				patch = patch[:maxPatternChars] + "\n... (truncated)"
			}
			fmt.Fprintf(&b, "\n### %s (%s, delta %+.2f)\n%s\n", p.ID, outcome, p.Metadata.Delta, patch)
		}
	}

	if len(fc.PreviousErrors) > 0 {
		b.WriteString("\n## Earlier attempts in this run failed with\n\n")
		for _, e := range fc.PreviousErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	if len(fc.Files) > 0 {
		b.WriteString("\n## Files\n\n")
		paths := make([]string, 0, len(fc.Files))
		for p := range fc.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		budget := maxFileChars
		for _, p := range paths {
			content := fc.Files[p]
			if len(content) > budget {
				fmt.Fprintf(&b, "=== FILE: %s ===\n(omitted, prompt budget exhausted)\n", p)
				continue
			}
			budget -= len(content)
			fmt.Fprintf(&b, "=== FILE: %s ===\n%s\n", p, content)
		}
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	if !strings.HasPrefix(t, "```") {
		return t + "\n"
	}
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:]
	} else {
		return ""
	}
	t = strings.TrimSuffix(strings.TrimRight(t, "\n "), "```")
	return strings.TrimRight(t, "\n") + "\n"
}
