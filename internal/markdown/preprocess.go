package markdown

import (
	"fmt"
	stdhtml "html"
	"strings"
	"time"

	"webchat/internal/model"
)

// ThinkBlock 是渲染时从消息内容推导出的思考段视图，
// 只存在于一次渲染内，从不落库。
type ThinkBlock struct {
	HiddenText    string
	Remainder     string
	DurationLabel string
	Expanded      bool
}

// Preprocessor 在词法分析前重写模型原始输出。
// 字段对应一次会话的渲染上下文，显式传入，不用全局变量，
// 并发跑多个实例互不干扰。
type Preprocessor struct {
	EndTag        string          // 当前配置的结束标签
	DeepQueryMode bool            // 深度查询模式下思考块默认折叠
	LiveDuration  time.Duration   // 本轮已定格的思考耗时，0 表示没有
	History       []model.Message // 回查历史消息 thinkingTime 用
}

// Preprocess 按固定顺序处理：先统一 LaTeX 定界符（代码段不动），
// 再按结束标签切出思考段并生成可折叠标记，后面紧跟原样的剩余内容。
// 所有分支都产出合法字符串，没有致命错误。
func (p *Preprocessor) Preprocess(content string, expandedHint *bool, storedEndTag string) string {
	content = NormalizeLaTeX(content)

	block := p.Split(content, expandedHint, storedEndTag)
	if block == nil {
		// 流式中途可能出现孤立的标签片段，转义掉避免被当成标记
		return escapeBareTag(content, p.EndTag)
	}
	return renderThinkBlock(block) + block.Remainder
}

// Split 在结束标签处把内容切成隐藏的思考段和可见的剩余部分。
// 消息自带的标签优先于当前默认值，标签在消息生成后可能已经变了。
// 找不到标签返回 nil。
func (p *Preprocessor) Split(content string, expandedHint *bool, storedEndTag string) *ThinkBlock {
	tag := storedEndTag
	if tag == "" {
		tag = p.EndTag
	}
	if tag == "" {
		return nil
	}

	idx := strings.Index(content, tag)
	if idx == -1 {
		return nil
	}

	block := &ThinkBlock{
		HiddenText:    strings.TrimSpace(content[:idx]),
		Remainder:     content[idx+len(tag):],
		DurationLabel: p.durationLabel(content),
	}
	if expandedHint != nil {
		block.Expanded = *expandedHint
	} else {
		block.Expanded = !p.DeepQueryMode
	}
	return block
}

func (p *Preprocessor) durationLabel(content string) string {
	if p.LiveDuration > 0 {
		return fmt.Sprintf(" (%.1fs)", p.LiveDuration.Seconds())
	}
	for _, msg := range p.History {
		if msg.Role != model.RoleAssistant || msg.ThinkingTime == nil {
			continue
		}
		if msg.Content.RawText() == content {
			return fmt.Sprintf(" (%.1fs)", float64(*msg.ThinkingTime)/1000)
		}
	}
	return ""
}

// renderThinkBlock 产出可折叠思考块的标记。
// 隐藏文本做 HTML 转义并把换行换成 <br>；
// 思考段为空也照样输出块，保持结构一致。
func renderThinkBlock(block *ThinkBlock) string {
	display, chevron := "none", "fa-chevron-down"
	if block.Expanded {
		display, chevron = "block", "fa-chevron-up"
	}
	hidden := strings.ReplaceAll(stdhtml.EscapeString(block.HiddenText), "\n", "<br>")

	var b strings.Builder
	b.WriteString("<div class=\"think-block\">\n")
	b.WriteString("    <button class=\"think-toggle\">\n")
	b.WriteString(fmt.Sprintf("        <span>Thought Process%s</span>\n", block.DurationLabel))
	b.WriteString(fmt.Sprintf("        <i class=\"fa %s\" aria-hidden=\"true\"></i>\n", chevron))
	b.WriteString("    </button>\n")
	b.WriteString(fmt.Sprintf("    <div class=\"think-content\" style=\"display: %s;\">%s</div>\n", display, hidden))
	b.WriteString("</div>")
	return b.String()
}

// escapeBareTag 把孤立出现的结束标签做 HTML 转义，忽略大小写
func escapeBareTag(content, tag string) string {
	if tag == "" {
		return content
	}
	var b strings.Builder
	i := 0
	for i < len(content) {
		if i+len(tag) <= len(content) && strings.EqualFold(content[i:i+len(tag)], tag) {
			b.WriteString(stdhtml.EscapeString(content[i : i+len(tag)]))
			i += len(tag)
			continue
		}
		b.WriteByte(content[i])
		i++
	}
	return b.String()
}

// ContainsThinkBlock 判断预处理结果里是否已经出现思考块标记
func ContainsThinkBlock(processed string) bool {
	return strings.Contains(processed, `class="think-block"`)
}
