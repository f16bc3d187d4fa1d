// Package classifier implements the Activity Classifier (C2): it turns
// a cleaned slice of terminal output into a best-guess ActivityInfo
// with a confidence score. It has no teacher analog in the corpus (the
// teacher's only regexp users are internal/git and internal/memory's
// learning store, neither a classifier) and is built fresh on stdlib
// regexp, in the loose idiom of the teacher's router.go ordered-pattern
// classifier and supervisor/parser.go's defensive extraction style.
package classifier

import (
	"regexp"
	"strings"
)

// Type is the inferred activity category.
type Type string

const (
	TypeCoding    Type = "coding"
	TypeFileOp    Type = "file_operation"
	TypeCommand   Type = "command_execution"
	TypeThinking  Type = "thinking"
	TypeIdle      Type = "idle"
)

// ActivityInfo is the classifier's output.
type ActivityInfo struct {
	Type             Type
	WorkingOnFile    string
	ExecutingCommand string
	Confidence       float64
	HasError         bool
}

type pattern struct {
	re       *regexp.Regexp
	typ      Type
	priority int
	fastPath bool
}

// patterns is the ordered, priority-descending pattern table. Error
// patterns carry the top priority and always resolve to TypeIdle: an
// erroring agent is not "working" in the sense the dashboard cares
// about.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)\b(panic|fatal error|traceback|exception|segmentation fault)\b`), TypeIdle, 100, true},
	{regexp.MustCompile(`(?i)\berror:`), TypeIdle, 95, true},

	{regexp.MustCompile(`(?i)^(creating|editing|writing|reading) file`), TypeFileOp, 80, true},
	{regexp.MustCompile(`(?i)^\s*[$#>]\s*\S+`), TypeCommand, 75, true},
	{regexp.MustCompile("(?i)```"), TypeCoding, 70, true},
	{regexp.MustCompile(`(?i)\bthinking\b|\banalyzing\b|\bconsidering\b`), TypeThinking, 65, true},

	{regexp.MustCompile(`(?i)^(running|executing|starting):`), TypeCommand, 60, false},
	{regexp.MustCompile(`(?i)\bfunc\s+\w+\(|\bclass\s+\w+|\bdef\s+\w+\(`), TypeCoding, 55, false},
	{regexp.MustCompile(`(?i)\b(npm|go|git|docker|cargo|pip|yarn)\s+\w+`), TypeCommand, 50, false},
	{regexp.MustCompile(`(?i)\b(idle|waiting|ready)\b`), TypeIdle, 10, false},
}

var fastPath []pattern

func init() {
	for _, p := range patterns {
		if p.fastPath {
			fastPath = append(fastPath, p)
		}
	}
}

const maxPriority = 100

// filePatterns extract a file name from output, tried in order.
var filePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:creating|editing|reading) file:\s*"?([^"\s]+)"?`),
	regexp.MustCompile(`"([^"]+\.[a-zA-Z0-9]+)"`),
	regexp.MustCompile(`'([^']+\.[a-zA-Z0-9]+)'`),
	regexp.MustCompile(`(?:touch|cp|mv)\s+(\S+)`),
}

// commandPatterns extract a shell command from output, tried in order.
var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:running|executing|starting):\s*(.+)$`),
	regexp.MustCompile(`^\s*[$#>]\s*(.+)$`),
	regexp.MustCompile(`(?i)\b((?:npm|go|git|docker|cargo|pip|yarn)\s+\S+(?:\s+\S+)?)`),
}

// Classify assigns a Type, extraction fields, and a confidence score to
// cleaned terminal output (ANSI-stripped, whitespace-collapsed by the
// caller).
func Classify(text string) ActivityInfo {
	info := ActivityInfo{HasError: HasError(text)}

	p, matched := matchFastPath(text)
	if !matched {
		p, matched = matchFull(text)
	}
	if !matched {
		info.Type = TypeIdle
		info.Confidence = 0
		return info
	}

	info.Type = p.typ
	info.Confidence = float64(p.priority) / maxPriority

	if file, ok := extractFile(text); ok {
		info.WorkingOnFile = file
		info.Confidence += 0.15
	}
	if cmd, ok := extractCommand(text); ok {
		info.ExecutingCommand = cmd
		info.Confidence += 0.10
	}
	if info.Type == TypeCoding && strings.Contains(text, "```") {
		info.Confidence += 0.05
	}
	if info.Confidence > 1 {
		info.Confidence = 1
	}
	return info
}

func matchFastPath(text string) (pattern, bool) {
	for _, p := range fastPath {
		if p.re.MatchString(text) {
			return p, true
		}
	}
	return pattern{}, false
}

func matchFull(text string) (pattern, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p, true
		}
	}
	return pattern{}, false
}

// HasError reports whether text matches a top-priority error pattern,
// independent of the overall Type classification.
func HasError(text string) bool {
	for _, p := range patterns {
		if p.priority < 90 {
			continue
		}
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

func extractFile(text string) (string, bool) {
	for _, re := range filePatterns {
		if m := re.FindStringSubmatch(text); len(m) == 2 {
			return m[1], true
		}
	}
	return "", false
}

func extractCommand(text string) (string, bool) {
	for _, re := range commandPatterns {
		m := re.FindStringSubmatch(text)
		if len(m) != 2 {
			continue
		}
		cmd := strings.TrimSpace(m[1])
		if len(cmd) <= 2 {
			continue
		}
		return cmd, true
	}
	return "", false
}
