package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

func analyze(t *testing.T, src string) []Diagnostic {
	t.Helper()
	diags, err := NewBalanceAnalyzer().Analyze(context.Background(), []byte(src), "typescript")
	require.NoError(t, err)
	return diags
}

func TestBalanceAnalyzer_CleanFile(t *testing.T) {
	diags := analyze(t, "function f(a) {\n  return [a, a]\n}\n")
	assert.Empty(t, diags)
}

func TestBalanceAnalyzer_MissingBraceGetsAppendFix(t *testing.T) {
	src := "function f() {\n  return 1\n"
	diags := analyze(t, src)
	require.Len(t, diags, 1)

	d := diags[0]
	assert.Contains(t, d.Message, `missing closing "}"`)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, 14, d.Column)
	assert.Equal(t, friction.SeverityHigh, d.Severity)

	require.NotNil(t, d.Fix)
	assert.Equal(t, 0.95, d.Fix.Confidence)
	assert.Equal(t, len(src), d.Fix.Edit.Start)
	assert.Equal(t, len(src), d.Fix.Edit.End)
	assert.Equal(t, []byte("}\n"), d.Fix.Edit.Replacement)
}

func TestBalanceAnalyzer_MultipleUnclosedHaveNoFix(t *testing.T) {
	diags := analyze(t, "function f() {\n  g([1, 2\n")
	require.Len(t, diags, 3)
	for _, d := range diags {
		assert.Nil(t, d.Fix, d.Message)
	}
}

func TestBalanceAnalyzer_UnexpectedCloser(t *testing.T) {
	diags := analyze(t, "function f() {\n  return 1]\n}\n")
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, `unexpected "]"`)
	assert.Equal(t, 2, diags[0].Line)
	assert.Nil(t, diags[0].Fix)
}

func TestBalanceAnalyzer_IgnoresDelimitersInStringsAndComments(t *testing.T) {
	src := "const a = \"{[(\"\n// } closing in comment\n/* ) */\nconst b = `{{`\n"
	diags := analyze(t, src)
	assert.Empty(t, diags)
}

func TestBalanceAnalyzer_UnterminatedString(t *testing.T) {
	diags := analyze(t, "const a = \"oops\nconst b = 1\n")
	require.Len(t, diags, 1)
	assert.Equal(t, "unterminated string literal", diags[0].Message)
	assert.Equal(t, 1, diags[0].Line)
	assert.Equal(t, 11, diags[0].Column)
}

func TestBalanceAnalyzer_UnterminatedTemplateLiteral(t *testing.T) {
	diags := analyze(t, "const a = `multi\nline\n")
	require.Len(t, diags, 1)
	assert.Equal(t, "unterminated template literal", diags[0].Message)
}

func TestBalanceAnalyzer_EscapedQuoteInString(t *testing.T) {
	diags := analyze(t, "const a = \"he said \\\"{\\\"\"\n")
	assert.Empty(t, diags)
}
