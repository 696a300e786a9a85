package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a judging prompt variant.
type PromptVariant string

const (
	// PromptStrict requires every essential fact, for safety-critical topics.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default judging variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards the core idea, for refresher training.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

const maxAnswerRunes = 10000

var (
	loadOnce       sync.Once
	loadErr        error
	judgeTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// JudgeData holds template data for judge prompts.
type JudgeData struct {
	Question     string
	Expected     string
	Answer       string
	LanguageName string
	Context      string
}

// Load parses judge templates from fsys, which must contain
// templates/judge_<variant>.txt. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		judgeTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			name := "templates/judge_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New("judge_" + string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			judgeTemplates[v] = tmpl
		}
	})
	return loadErr
}

// LoadDefault loads the templates embedded in the binary.
func LoadDefault() error {
	return Load(templateFS)
}

// BuildJudgePrompt renders the judge prompt for one answer.
func BuildJudgePrompt(variant PromptVariant, data JudgeData) (string, error) {
	if err := LoadDefault(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := judgeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data.Answer = sanitizeAnswer(data.Answer)
	if data.LanguageName == "" {
		data.LanguageName = "English"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
