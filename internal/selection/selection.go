// Package selection 在重绘消息区域前后保存和恢复用户的文本选区。
// 选区锚定到文本节点的序号加偏移，重绘后同位置的节点会被替换成
// 新对象，按序号重新定位仍然有效。
package selection

// Node 是宿主渲染面里的一个文本节点，包内只做同一性比较
type Node any

// Range 是宿主当前选区的原始视图
type Range struct {
	AnchorNode   Node
	AnchorOffset int
	FocusNode    Node
	FocusOffset  int
	StartNode    Node
	StartOffset  int
	EndNode      Node
	EndOffset    int
	Text         string
}

// Surface 抽象承载消息渲染的宿主面
type Surface interface {
	// TextNodes 按文档序返回当前全部文本节点
	TextNodes() []Node
	// ActiveRange 返回当前选区，没有选区时第二个返回值为 false
	ActiveRange() (Range, bool)
	// SetSelection 按锚点和焦点设置选区，宿主不支持时返回 false
	SetSelection(anchorNode Node, anchorOffset int, focusNode Node, focusOffset int) bool
	// SetRange 按起止位置设置选区，作为 SetSelection 的降级路径
	SetRange(startNode Node, startOffset int, endNode Node, endOffset int)
	// Defer 把回调排到下一次绘制之后执行
	Defer(fn func())
}

// Snapshot 把选区端点记成文本节点序号加偏移，可以跨一次重绘存活
type Snapshot struct {
	AnchorIndex  int
	AnchorOffset int
	FocusIndex   int
	FocusOffset  int
	StartIndex   int
	StartOffset  int
	EndIndex     int
	EndOffset    int
	Text         string
}

// Capture 对当前选区拍快照。
// 没有选区，或任何端点已经不在文本节点列表里时返回 nil。
func Capture(s Surface) *Snapshot {
	r, ok := s.ActiveRange()
	if !ok {
		return nil
	}
	nodes := s.TextNodes()

	snap := &Snapshot{
		AnchorIndex:  indexOf(nodes, r.AnchorNode),
		AnchorOffset: r.AnchorOffset,
		FocusIndex:   indexOf(nodes, r.FocusNode),
		FocusOffset:  r.FocusOffset,
		StartIndex:   indexOf(nodes, r.StartNode),
		StartOffset:  r.StartOffset,
		EndIndex:     indexOf(nodes, r.EndNode),
		EndOffset:    r.EndOffset,
		Text:         r.Text,
	}
	if snap.AnchorIndex == -1 || snap.FocusIndex == -1 || snap.StartIndex == -1 || snap.EndIndex == -1 {
		return nil
	}
	return snap
}

// Restore 在下一次绘制后把快照里的选区套回新的文本节点上。
// 先尝试锚点加焦点的方向保持路径，失败再退到起止位置。
// 节点数变少导致序号越界时放弃恢复，不报错。
func Restore(s Surface, snap *Snapshot) {
	if snap == nil {
		return
	}
	s.Defer(func() {
		nodes := s.TextNodes()
		if inBounds(nodes, snap.AnchorIndex) && inBounds(nodes, snap.FocusIndex) {
			if s.SetSelection(nodes[snap.AnchorIndex], snap.AnchorOffset, nodes[snap.FocusIndex], snap.FocusOffset) {
				return
			}
		}
		if inBounds(nodes, snap.StartIndex) && inBounds(nodes, snap.EndIndex) {
			s.SetRange(nodes[snap.StartIndex], snap.StartOffset, nodes[snap.EndIndex], snap.EndOffset)
		}
	})
}

func indexOf(nodes []Node, target Node) int {
	for i, n := range nodes {
		if n == target {
			return i
		}
	}
	return -1
}

func inBounds(nodes []Node, idx int) bool {
	return idx >= 0 && idx < len(nodes)
}
