package markdown

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// TokenKind 标记块级词法单元的类别
type TokenKind string

const (
	KindCode  TokenKind = "code"
	KindList  TokenKind = "list"
	KindOther TokenKind = "other"
)

// Token 是一个块级词法单元。
// code 块只带语言和正文；list 和 other 带原始 markdown，
// other 另带渲染好的 HTML 和块类型名。
type Token struct {
	Kind      TokenKind
	Language  string // code：围栏信息串，可能是 lang:filename 形式
	Text      string // code：代码正文
	Raw       string // list/other：原始 markdown
	HTML      string // list/other：渲染结果
	BlockType string // other：paragraph、heading 等
}

// Lexer 把 markdown 文本切成块级 Token 序列
type Lexer interface {
	Lex(content string) []Token
}

// GoldmarkLexer 用 goldmark 做块级切分，
// 文档的每个顶层子节点对应一个 Token。
type GoldmarkLexer struct {
	md goldmark.Markdown
}

func NewGoldmarkLexer() *GoldmarkLexer {
	return &GoldmarkLexer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				htmlrenderer.WithHardWraps(),
				htmlrenderer.WithUnsafe(),
			),
		),
	}
}

func (l *GoldmarkLexer) Lex(content string) []Token {
	source := []byte(content)
	doc := l.md.Parser().Parse(text.NewReader(source))

	var tokens []Token
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		tokens = append(tokens, l.tokenize(source, node))
	}
	return tokens
}

func (l *GoldmarkLexer) tokenize(source []byte, node ast.Node) Token {
	switch n := node.(type) {
	case *ast.FencedCodeBlock:
		return Token{
			Kind:     KindCode,
			Language: string(n.Language(source)),
			Text:     blockText(source, n),
		}
	case *ast.CodeBlock:
		return Token{Kind: KindCode, Text: blockText(source, n)}
	case *ast.List:
		return Token{
			Kind: KindList,
			Raw:  nodeRaw(source, node),
			HTML: l.renderNode(source, node),
		}
	default:
		return Token{
			Kind:      KindOther,
			Raw:       nodeRaw(source, node),
			HTML:      l.renderNode(source, node),
			BlockType: strings.ToLower(node.Kind().String()),
		}
	}
}

func (l *GoldmarkLexer) renderNode(source []byte, node ast.Node) string {
	var buf bytes.Buffer
	if err := l.md.Renderer().Render(&buf, source, node); err != nil {
		return ""
	}
	return buf.String()
}

func blockText(source []byte, node ast.Node) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// nodeRaw 取节点覆盖的源文本。列表等容器节点自身没有行信息，
// 要遍历后代取最小起点和最大终点。
func nodeRaw(source []byte, node ast.Node) string {
	start, stop := -1, -1
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		// 行级节点没有 Lines，调用会 panic，跳过整棵子树
		if n.Type() != ast.TypeBlock {
			return ast.WalkSkipChildren, nil
		}
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if start == -1 || seg.Start < start {
				start = seg.Start
			}
			if seg.Stop > stop {
				stop = seg.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	if start == -1 || stop > len(source) {
		return ""
	}
	return string(source[start:stop])
}

// TokenCache 记住最近一次词法分析的输入和结果，
// 内容逐字符相同时直接复用，不重新解析。
type TokenCache struct {
	lexer   Lexer
	mu      sync.Mutex
	primed  bool
	content string
	tokens  []Token
}

func NewTokenCache(lexer Lexer) *TokenCache {
	return &TokenCache{lexer: lexer}
}

func (c *TokenCache) Tokens(content string) []Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.primed || content != c.content {
		c.tokens = c.lexer.Lex(content)
		c.content = content
		c.primed = true
	}
	return c.tokens
}

// TokensEqual 判断两个 Token 序列是否结构相等。
// 每个分片都会产出新切片，必须逐项比较内容而不是比引用：
// code 比正文和语言，其余比原始文本。
// 这是渲染端决定要不要重算输出的唯一依据。
func TokensEqual(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			return false
		}
		if a[i].Kind == KindCode {
			if a[i].Text != b[i].Text || a[i].Language != b[i].Language {
				return false
			}
			continue
		}
		if a[i].Raw != b[i].Raw {
			return false
		}
	}
	return true
}
