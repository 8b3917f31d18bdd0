package markdown

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlight 对代码做语法高亮，输出 HTML 片段。
// 任何失败都退回 HTML 转义的纯文本，绝不向上传播。
func Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}

	style := styles.Get("github")
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return stdhtml.EscapeString(code)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.PreventSurroundingPre(true),
	)

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return stdhtml.EscapeString(code)
	}
	return buf.String()
}

// RenderHTML 把 Token 序列拼装成最终 HTML。
// code 块包一层带标题栏的容器，正文走语法高亮；
// 其余 Token 直接用词法分析时渲染好的片段。
func RenderHTML(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		if tok.Kind != KindCode {
			b.WriteString(tok.HTML)
			continue
		}

		lang, fileName := SplitLanguage(tok.Language)
		if lang == "" {
			lang = "bash"
		}
		display := lang
		if fileName != "" {
			display = fileName
		}

		b.WriteString(`<div class="code-block"><div class="code-title"><span>`)
		b.WriteString(stdhtml.EscapeString(display))
		b.WriteString(`</span></div><pre class="code-pre">`)
		b.WriteString(fmt.Sprintf(`<code class="language-%s">`, stdhtml.EscapeString(lang)))
		b.WriteString(Highlight(tok.Text, lang))
		b.WriteString(`</code></pre></div>`)
	}
	return b.String()
}

// SplitLanguage 解析 lang:path 形式的围栏信息串
func SplitLanguage(info string) (lang, fileName string) {
	parts := strings.SplitN(info, ":", 2)
	lang = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		fileName = strings.TrimSpace(parts[1])
	}
	return lang, fileName
}
