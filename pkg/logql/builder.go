// Package logql builds the LogQL queries used to read pipeline task logs.
package logql

import (
	"fmt"
	"strings"
)

// DefaultApp is the app label every pipeline task ships its logs under.
const DefaultApp = "pavi-pipeline"

// QueryBuilder constructs safe LogQL query strings.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type QueryBuilder struct{}

// ExecutionParams selects the logs of one pipeline execution.
type ExecutionParams struct {
	App       string
	Execution string
	Task      string
	Levels    []string
	Keyword   string
}

// BuildExecutionQuery returns a LogQL query for the logs of one execution,
// optionally narrowed to a task, a set of levels and a line substring.
func (b QueryBuilder) BuildExecutionQuery(p ExecutionParams) string {
	parts := []string{b.buildSelector(p.App, p.Execution, p.Task)}

	if kf := b.buildKeywordFilter(p.Keyword); kf != "" {
		parts = append(parts, kf)
	}
	if lf := b.buildLevelFilter(p.Levels); lf != "" {
		parts = append(parts, lf)
	}

	return strings.Join(parts, " ")
}

func (b QueryBuilder) buildSelector(app, execution, task string) string {
	if app == "" {
		app = DefaultApp
	}
	matchers := []string{
		fmt.Sprintf(`app="%s"`, quote(app)),
		fmt.Sprintf(`execution="%s"`, quote(execution)),
	}
	if task != "" {
		matchers = append(matchers, fmt.Sprintf(`task="%s"`, quote(task)))
	}
	return "{" + strings.Join(matchers, ", ") + "}"
}

func (b QueryBuilder) buildLevelFilter(levels []string) string {
	if len(levels) == 0 {
		return ""
	}
	lower := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || strings.ContainsAny(l, `"|()\`) {
			continue
		}
		lower = append(lower, l)
	}
	if len(lower) == 0 {
		return ""
	}
	return fmt.Sprintf(`| level =~ "(?i)(%s)"`, strings.Join(lower, "|"))
}

// buildKeywordFilter uses a raw string literal unless the keyword itself
// contains a backtick.
func (b QueryBuilder) buildKeywordFilter(keyword string) string {
	if keyword == "" {
		return ""
	}
	if strings.Contains(keyword, "`") {
		return fmt.Sprintf(`|= "%s"`, quote(keyword))
	}
	return fmt.Sprintf("|= `%s`", keyword)
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
