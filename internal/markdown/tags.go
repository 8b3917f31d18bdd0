package markdown

import "strings"

// DefaultEndTags 是各家模型常见的思考结束标记，
// 配置的标签之外这些也要能结束思考段。
var DefaultEndTags = []string{"</think>", "<|end_of_thought|>"}

// HasEndTag 判断 text 里是否出现了配置的结束标签或任一常见标签。
// 纯子串匹配，流式期间每个分片调用一次。
func HasEndTag(text, configuredTag string) bool {
	for _, tag := range DefaultEndTags {
		if strings.Contains(text, tag) {
			return true
		}
	}
	return configuredTag != "" && strings.Contains(text, configuredTag)
}
