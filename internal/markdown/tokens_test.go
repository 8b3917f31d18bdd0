package markdown

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldmarkLexerKinds(t *testing.T) {
	lexer := NewGoldmarkLexer()
	tokens := lexer.Lex("# Title\n\n```go\nfmt.Println(\"hi\")\n```\n\n- one\n- two\n")
	require.Len(t, tokens, 3)

	assert.Equal(t, KindOther, tokens[0].Kind)
	assert.Equal(t, "heading", tokens[0].BlockType)

	assert.Equal(t, KindCode, tokens[1].Kind)
	assert.Equal(t, "go", tokens[1].Language)
	assert.Equal(t, "fmt.Println(\"hi\")\n", tokens[1].Text)

	assert.Equal(t, KindList, tokens[2].Kind)
	assert.Contains(t, tokens[2].Raw, "one")
	assert.Contains(t, tokens[2].Raw, "two")
	assert.Contains(t, tokens[2].HTML, "<li>")
}

func TestGoldmarkLexerInlineChildren(t *testing.T) {
	lexer := NewGoldmarkLexer()

	// 段落和标题的行内子节点没有行信息，取原文时不能触碰
	tokens := lexer.Lex("hello *world* with [a link](https://example.com)")
	require.Len(t, tokens, 1)
	assert.Equal(t, KindOther, tokens[0].Kind)
	assert.Equal(t, "hello *world* with [a link](https://example.com)", tokens[0].Raw)

	tokens = lexer.Lex("## heading with `code` span\n\n- item with **bold**\n")
	require.Len(t, tokens, 2)
	assert.Equal(t, "heading", tokens[0].BlockType)
	assert.Contains(t, tokens[1].Raw, "item with **bold**")
}

func TestGoldmarkLexerRendersHTML(t *testing.T) {
	lexer := NewGoldmarkLexer()
	tokens := lexer.Lex("plain **bold** text")
	require.Len(t, tokens, 1)
	assert.Contains(t, tokens[0].HTML, "<strong>bold</strong>")
}

// countingLexer 记录被调用的次数，验证缓存是否生效
type countingLexer struct {
	mu    sync.Mutex
	calls int
	inner Lexer
}

func (c *countingLexer) Lex(content string) []Token {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Lex(content)
}

func TestTokenCacheMemoizes(t *testing.T) {
	counting := &countingLexer{inner: NewGoldmarkLexer()}
	cache := NewTokenCache(counting)

	first := cache.Tokens("hello **world**")
	second := cache.Tokens("hello **world**")
	assert.Equal(t, 1, counting.calls)
	assert.True(t, TokensEqual(first, second))

	cache.Tokens("hello **world**!")
	assert.Equal(t, 2, counting.calls)
}

func TestTokensEqual(t *testing.T) {
	a := []Token{{Kind: KindCode, Language: "go", Text: "x"}}
	b := []Token{{Kind: KindCode, Language: "go", Text: "x", HTML: "ignored"}}
	assert.True(t, TokensEqual(a, b))

	// 代码块比较文本和语言
	c := []Token{{Kind: KindCode, Language: "py", Text: "x"}}
	assert.False(t, TokensEqual(a, c))

	// 其余类型比较原始文本
	d := []Token{{Kind: KindOther, Raw: "hi"}}
	e := []Token{{Kind: KindOther, Raw: "hi", HTML: "<p>hi</p>"}}
	assert.True(t, TokensEqual(d, e))

	assert.False(t, TokensEqual(a, d))
	assert.False(t, TokensEqual(a, append(a, d...)))
}
