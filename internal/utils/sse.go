package utils

import (
	"io"
	"net/http"
)

// StreamWriter 把增量文本原样写给客户端。
// 响应声明为 text/event-stream 以关闭中间层缓冲，
// 但内容就是裸文本块，不带 SSE 事件封装。
type StreamWriter struct {
	w http.ResponseWriter
}

func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &StreamWriter{w: w}
}

// Write 写一块增量并立刻刷出去
func (s *StreamWriter) Write(chunk string) error {
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}
