package detector

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// BalanceAnalyzer is the built-in diagnostic source: a string- and
// comment-aware delimiter balance scan for JavaScript-family files. It is
// not a parser, but it catches the truncated-edit class of breakage
// (missing brace, bracket, or paren after an interrupted edit) that costs
// the most flow, and it can propose a safe append fix for it.
type BalanceAnalyzer struct{}

// NewBalanceAnalyzer creates the built-in analyzer.
func NewBalanceAnalyzer() *BalanceAnalyzer {
	return &BalanceAnalyzer{}
}

type openDelim struct {
	ch   byte
	line int
	col  int
}

var closerFor = map[byte]byte{'{': '}', '[': ']', '(': ')'}
var openerFor = map[byte]byte{'}': '{', ']': '[', ')': '('}

// Analyze scans the content for unbalanced delimiters. When exactly one
// delimiter is left unclosed, the diagnostic carries an append fix; with
// several unclosed the closer order is ambiguous, so they are reported
// without fixes.
func (BalanceAnalyzer) Analyze(ctx context.Context, content []byte, language string) ([]Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		stack []openDelim
		diags []Diagnostic

		line, col      = 1, 0
		inString       byte // ', ", or ` while inside a literal
		stringLine     int
		stringCol      int
		inLineComment  bool
		inBlockComment bool
	)

	for i := 0; i < len(content); i++ {
		ch := content[i]
		col++

		if ch == '\n' {
			// Ordinary string literals don't span lines; flag and bail
			// out of string mode so the rest of the file still scans.
			if inString == '\'' || inString == '"' {
				diags = append(diags, Diagnostic{
					Message:  "unterminated string literal",
					Line:     stringLine,
					Column:   stringCol,
					Severity: friction.SeverityHigh,
				})
				inString = 0
			}
			line++
			col = 0
			inLineComment = false
			continue
		}

		if inLineComment {
			continue
		}
		if inBlockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				inBlockComment = false
				i++
				col++
			}
			continue
		}
		if inString != 0 {
			switch ch {
			case '\\':
				i++
				col++
			case inString:
				inString = 0
			}
			continue
		}

		switch ch {
		case '\'', '"', '`':
			inString = ch
			stringLine = line
			stringCol = col
		case '/':
			if i+1 < len(content) {
				switch content[i+1] {
				case '/':
					inLineComment = true
				case '*':
					inBlockComment = true
					i++
					col++
				}
			}
		case '{', '[', '(':
			stack = append(stack, openDelim{ch: ch, line: line, col: col})
		case '}', ']', ')':
			if len(stack) == 0 || stack[len(stack)-1].ch != openerFor[ch] {
				diags = append(diags, Diagnostic{
					Message:  fmt.Sprintf("unexpected %q", string(ch)),
					Line:     line,
					Column:   col,
					Severity: friction.SeverityHigh,
				})
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}

	if inString == '\'' || inString == '"' {
		diags = append(diags, Diagnostic{
			Message:  "unterminated string literal",
			Line:     stringLine,
			Column:   stringCol,
			Severity: friction.SeverityHigh,
		})
	}
	if inString == '`' {
		diags = append(diags, Diagnostic{
			Message:  "unterminated template literal",
			Line:     stringLine,
			Column:   stringCol,
			Severity: friction.SeverityHigh,
		})
	}

	for _, open := range stack {
		diag := Diagnostic{
			Message:  fmt.Sprintf("missing closing %q for %q", string(closerFor[open.ch]), string(open.ch)),
			Line:     open.line,
			Column:   open.col,
			Severity: friction.SeverityHigh,
		}
		if len(stack) == 1 && len(diags) == 0 {
			diag.Fix = &ProposedFix{
				Confidence: 0.95,
				Edit: workspace.Edit{
					Start:       len(content),
					End:         len(content),
					Replacement: []byte(string(closerFor[open.ch]) + "\n"),
				},
			}
		}
		diags = append(diags, diag)
	}

	return diags, nil
}
