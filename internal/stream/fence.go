package stream

import "regexp"

// Code generation output arrives wrapped in markdown code fences that
// must not appear in the stored artifact. The fences are stripped on
// every update so the visible buffer never shows them.
var (
	leadingFenceRe  = regexp.MustCompile("^\\s*```[a-zA-Z0-9_+#.-]*[ \t]*\r?\n?")
	trailingFenceRe = regexp.MustCompile("\r?\n?[ \t]*```\\s*$")
)

// StripCodeFences removes a leading triple-backtick fence (with optional
// language tag) and a trailing fence, preserving interior lines
// verbatim. Content without fences passes through unchanged.
func StripCodeFences(s string) string {
	s = leadingFenceRe.ReplaceAllString(s, "")
	return trailingFenceRe.ReplaceAllString(s, "")
}
