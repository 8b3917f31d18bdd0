package markdown

import (
	"regexp"
	"strings"
)

var (
	displayMathRe = regexp.MustCompile(`\\\[(.*?)\\\]`)
	inlineMathRe  = regexp.MustCompile(`\\\((.*?)\\\)`)
)

// NormalizeLaTeX 把 \[...\] 和 \(...\) 风格的公式定界符统一成 $ 语法。
// 先按三反引号围栏切分，再按单反引号行内代码切分，
// 代码段原样保留，公式重写绝不能碰到代码内容。
func NormalizeLaTeX(content string) string {
	var out strings.Builder
	for _, part := range splitFenced(content) {
		if strings.HasPrefix(part, "```") {
			out.WriteString(part)
			continue
		}
		for _, span := range splitInlineCode(part) {
			if len(span) >= 2 && strings.HasPrefix(span, "`") && strings.HasSuffix(span, "`") {
				out.WriteString(span)
				continue
			}
			out.WriteString(rewriteMathDelimiters(span))
		}
	}
	return out.String()
}

// splitFenced 把文本切成普通段和 ``` 围栏段的交替序列，
// 没配对的围栏留在普通段里。拼接结果与输入逐字节一致。
func splitFenced(s string) []string {
	var parts []string
	for s != "" {
		open := strings.Index(s, "```")
		if open == -1 {
			parts = append(parts, s)
			break
		}
		closing := strings.Index(s[open+3:], "```")
		if closing == -1 {
			parts = append(parts, s)
			break
		}
		end := open + 3 + closing + 3
		if open > 0 {
			parts = append(parts, s[:open])
		}
		parts = append(parts, s[open:end])
		s = s[end:]
	}
	return parts
}

func splitInlineCode(s string) []string {
	var spans []string
	for s != "" {
		open := strings.IndexByte(s, '`')
		if open == -1 {
			spans = append(spans, s)
			break
		}
		closing := strings.IndexByte(s[open+1:], '`')
		if closing == -1 {
			spans = append(spans, s)
			break
		}
		end := open + 1 + closing + 1
		if open > 0 {
			spans = append(spans, s[:open])
		}
		spans = append(spans, s[open:end])
		s = s[end:]
	}
	return spans
}

func rewriteMathDelimiters(s string) string {
	s = displayMathRe.ReplaceAllString(s, `$$$$${1}$$$$`)
	s = inlineMathRe.ReplaceAllString(s, `$$${1}$$`)
	s = escapeLoneDelimiter(s, '[')
	s = escapeLoneDelimiter(s, ']')
	return s
}

// escapeLoneDelimiter 转义没配对也没被转义过的 \[ 或 \]，
// 避免下游 LaTeX 渲染误读。RE2 没有反向预查，只能手工扫描。
func escapeLoneDelimiter(s string, delim byte) string {
	if !strings.Contains(s, `\`+string(delim)) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == delim && (i == 0 || s[i-1] != '\\') {
			b.WriteString(`\\`)
			b.WriteByte(delim)
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
