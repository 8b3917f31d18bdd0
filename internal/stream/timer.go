package stream

import "time"

// ElapsedTimer 统计一轮回答里思考阶段的累计耗时。
// 续写时可以带上上一轮的结果继续累加。非并发安全，由调用方加锁。
type ElapsedTimer struct {
	now       func() time.Time
	startedAt time.Time
	running   bool
	total     time.Duration
}

// NewElapsedTimer 创建计时器
func NewElapsedTimer() *ElapsedTimer {
	return &ElapsedTimer{now: time.Now}
}

// Start 开始计时，已经在跑时是空操作
func (t *ElapsedTimer) Start() {
	if t.running {
		return
	}
	t.startedAt = t.now()
	t.running = true
}

// Stop 停止计时并返回累计耗时，重复调用返回同一个值
func (t *ElapsedTimer) Stop() time.Duration {
	if t.running {
		t.total += t.now().Sub(t.startedAt)
		t.running = false
	}
	return t.total
}

// ResumeFrom 以给定的历史耗时为基数重新开始计时
func (t *ElapsedTimer) ResumeFrom(previous time.Duration) {
	t.total = previous
	t.running = false
	t.Start()
}

// Running 返回计时器是否在跑
func (t *ElapsedTimer) Running() bool {
	return t.running
}

// Total 返回到当前为止的累计耗时，计时中也能读
func (t *ElapsedTimer) Total() time.Duration {
	if t.running {
		return t.total + t.now().Sub(t.startedAt)
	}
	return t.total
}

// Reset 清零
func (t *ElapsedTimer) Reset() {
	t.running = false
	t.total = 0
}
