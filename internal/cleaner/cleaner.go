// Package cleaner turns raw worker-agent output into user-safe text.
// Every string that crosses an agent boundary or reaches the final
// response goes through Clean exactly once per hop; cleaning is
// deterministic and idempotent.
package cleaner

import (
	"html"
	"regexp"
	"strings"
)

// maxRounds bounds the fixpoint loop. Real inputs converge in one or two
// rounds; the bound only guards against pathological entity nesting.
const maxRounds = 4

var (
	reasoningBlockRe = regexp.MustCompile(`(?is)<(think|reasoning|analysis)>.*?</\s*(think|reasoning|analysis)\s*>`)
	fencedMetaRe     = regexp.MustCompile("(?is)```(?:json|text)[ \t]*\n.*?```")
	debugLineRe      = regexp.MustCompile(`(?m)^\[[A-Z]+\][^\n]*\n?`)
	newlineRunRe     = regexp.MustCompile(`\n{3,}`)
)

// Line prefixes removed individually.
var bannerPrefixes = []string{
	"✅ Source:",
	"✅ Agent ID:",
	"✅ A2A Handoff:",
	"✅ Timestamp:",
}

// Markers that open a diagnostic block running until the next blank line.
var blockMarkers = []string{
	"TASK_DECOMPOSITION:",
	"Error Context:",
	"No specific task was assigned",
	"🔍 Authentic Agent Output Verification:",
}

// Clean applies the full post-processing pipeline and returns user-safe
// text. Runs to a fixpoint so cleaning already-cleaned text is a no-op.
func Clean(s string) string {
	out := s
	for i := 0; i < maxRounds; i++ {
		next := cleanOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func cleanOnce(s string) string {
	out := reasoningBlockRe.ReplaceAllString(s, "")
	out = stripFencedMeta(out)
	out = stripMarkedBlocks(out)
	out = debugLineRe.ReplaceAllString(out, "")
	out = newlineRunRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	return html.UnescapeString(out)
}

// stripFencedMeta removes ```json and ```text fences only when prose
// remains without them. An output that is nothing but a fenced block is
// the agent's actual answer and keeps its fences.
func stripFencedMeta(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	stripped := fencedMetaRe.ReplaceAllString(s, "")
	if strings.TrimSpace(stripped) == "" {
		return s
	}
	return stripped
}

// stripMarkedBlocks drops diagnostic blocks and verification banner lines.
// A block starts at a marker line and runs until the next blank line.
func stripMarkedBlocks(s string) string {
	lines := strings.Split(s, "\n")
	var b strings.Builder
	b.Grow(len(s))
	skipping := false
	wrote := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if skipping {
			if trimmed == "" {
				skipping = false
			}
			continue
		}
		if startsBlock(trimmed) {
			skipping = true
			continue
		}
		if isBannerLine(trimmed) {
			continue
		}
		if wrote {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		wrote = true
	}
	return b.String()
}

func startsBlock(line string) bool {
	for _, m := range blockMarkers {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return false
}

func isBannerLine(line string) bool {
	for _, p := range bannerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
