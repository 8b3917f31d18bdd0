package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLaTeXDisplayMath(t *testing.T) {
	out := NormalizeLaTeX(`the result is \[x^2 + y^2 = z^2\] indeed`)
	assert.Equal(t, "the result is $$x^2 + y^2 = z^2$$ indeed", out)
}

func TestNormalizeLaTeXInlineMath(t *testing.T) {
	out := NormalizeLaTeX(`so \(e^{i\pi} = -1\) holds`)
	assert.Equal(t, `so $e^{i\pi} = -1$ holds`, out)
}

func TestNormalizeLaTeXLoneDelimiters(t *testing.T) {
	assert.Equal(t, `left \\[ alone`, NormalizeLaTeX(`left \[ alone`))
	assert.Equal(t, `right \\] alone`, NormalizeLaTeX(`right \] alone`))
	// 前面已有反斜杠的不再转义
	assert.Equal(t, `done \\[ twice`, NormalizeLaTeX(`done \\[ twice`))
}

func TestNormalizeLaTeXSkipsFencedCode(t *testing.T) {
	in := "before \\(a\\) middle\n```python\nprint(\"\\(raw\\)\")\n```\nafter \\(b\\)"
	out := NormalizeLaTeX(in)
	assert.Contains(t, out, "before $a$ middle")
	assert.Contains(t, out, "print(\"\\(raw\\)\")")
	assert.Contains(t, out, "after $b$")
}

func TestNormalizeLaTeXSkipsInlineCode(t *testing.T) {
	out := NormalizeLaTeX("use `\\(x\\)` but \\(y\\) here")
	assert.Equal(t, "use `\\(x\\)` but $y$ here", out)
}

func TestNormalizeLaTeXUnterminatedFence(t *testing.T) {
	// 流式输出中代码块经常尚未闭合，内容必须原样保留
	in := "```go\nfunc main() {\n"
	assert.Equal(t, in, NormalizeLaTeX(in))
}

func TestNormalizeLaTeXByteIdentityWithoutMath(t *testing.T) {
	in := "plain text, no delimiters at all\nsecond line"
	assert.Equal(t, in, NormalizeLaTeX(in))
}
