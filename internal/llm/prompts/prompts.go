package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const maxContentRunes = 20000

var contentTagRegex = regexp.MustCompile(`(?i)</?\s*(lesson-content|lesson-title|system-instructions)\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

// QuizData holds template data for quiz generation prompts.
type QuizData struct {
	NumQuestions int
	Content      string
	Language     string
}

// SummaryData holds template data for lesson summary prompts.
type SummaryData struct {
	Content  string
	Language string
}

// TranslateData holds template data for translation prompts.
type TranslateData struct {
	Title    string
	Content  string
	Language string
}

func load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

func render(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// BuildQuizPrompt builds the prompt that asks for numQuestions quiz questions on content.
// lang is a BCP 47 tag; empty means the model's default language.
func BuildQuizPrompt(content string, numQuestions int, lang string) (string, error) {
	return render("quiz.tmpl", QuizData{
		NumQuestions: numQuestions,
		Content:      SanitizeContent(content),
		Language:     LanguageName(lang),
	})
}

// BuildSummaryPrompt builds the lesson summary prompt.
func BuildSummaryPrompt(content, lang string) (string, error) {
	return render("summary.tmpl", SummaryData{
		Content:  SanitizeContent(content),
		Language: LanguageName(lang),
	})
}

// BuildTranslatePrompt builds the lesson translation prompt.
func BuildTranslatePrompt(title, content, lang string) (string, error) {
	name := LanguageName(lang)
	if name == "" {
		return "", fmt.Errorf("unknown target language %q", lang)
	}
	return render("translate.tmpl", TranslateData{
		Title:    SanitizeContent(title),
		Content:  SanitizeContent(content),
		Language: name,
	})
}

// LanguageName returns the English name of a BCP 47 tag, or "" if the tag is
// empty or cannot be parsed.
func LanguageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(tag)
}

// SanitizeContent removes tags that would close the prompt's delimiters and
// truncates very long lessons.
func SanitizeContent(content string) string {
	content = contentTagRegex.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if content == "" {
		return "[No content provided]"
	}

	if utf8.RuneCountInString(content) > maxContentRunes {
		runes := []rune(content)
		content = string(runes[:maxContentRunes]) + "\n\n[Content truncated due to length]"
	}
	return content
}
