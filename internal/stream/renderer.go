package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"webchat/internal/markdown"
	"webchat/internal/model"
	"webchat/internal/selection"
	"webchat/internal/storage"
	"webchat/pkg/logger"
)

// State 是一轮回答的生命周期阶段
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateFinalizing
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options 是一轮对话的渲染配置
type Options struct {
	Model         string
	SystemContent string
	Parameters    map[string]interface{}
	StartTag      string
	EndTag        string
	DeepQueryMode bool
	PrivateChat   bool
}

// Sink 接收渲染产物。Publish 在令牌序列变化时被调用，
// ThinkBlockAppeared 在本轮第一次出现思考块时触发一次。
type Sink interface {
	Publish(tokens []markdown.Token)
	ThinkBlockAppeared()
}

const defaultTitle = "New Chat"

const titleSourceLimit = 500

// Renderer 驱动一轮流式回答：读增量、预处理、词法分析、
// 比对令牌后发布，并在结束时落库和补标题。
// 公开方法都可以并发调用，进行中的流会先被抢占。
type Renderer struct {
	transport Transport
	store     storage.Store
	sink      Sink
	surface   selection.Surface

	mu             sync.Mutex
	opts           Options
	state          State
	lastOutcome    State
	cancel         context.CancelFunc
	sessionDone    chan struct{}
	history        []model.Message
	conversationID string
	title          string

	lexer    markdown.Lexer
	newTimer func() *ElapsedTimer
}

// NewRenderer 创建渲染器，surface 传 nil 表示不做选区保持
func NewRenderer(transport Transport, store storage.Store, sink Sink, surface selection.Surface, opts Options) *Renderer {
	return &Renderer{
		transport: transport,
		store:     store,
		sink:      sink,
		surface:   surface,
		opts:      opts,
		state:     StateIdle,
		lexer:     markdown.NewGoldmarkLexer(),
		newTimer:  NewElapsedTimer,
	}
}

// session 是单次流的可变状态，不跨流复用
type session struct {
	timer     *ElapsedTimer
	cache     *markdown.TokenCache
	lastToks  []markdown.Token
	tagSeen   bool
	thinkSeen bool
	messageID string
	endTag    string
}

// resumeState 记录续写要接续的那条助手消息
type resumeState struct {
	index    int
	previous string
	elapsed  time.Duration
	expanded *bool
	endTag   string
}

// turn 是一轮回答的收尾所需的上下文
type turn struct {
	titleEligible bool
	userMessage   *model.Message
	titleSource   model.MessageContent
	open          func(ctx context.Context) (io.ReadCloser, error)
	resume        *resumeState
}

// SetOptions 更新渲染配置，对进行中的流不生效
func (r *Renderer) SetOptions(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts
}

// State 返回当前阶段
func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastOutcome 返回最近一次流的收束阶段，
// Finalizing 表示正常完成，Aborted 和 Failed 表示被取消或出错
func (r *Renderer) LastOutcome() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutcome
}

// History 返回当前会话消息的副本
func (r *Renderer) History() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.history))
	copy(out, r.history)
	return out
}

// Title 返回当前会话标题
func (r *Renderer) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

// ConversationID 返回当前会话 ID，新会话在首次发送前为空
func (r *Renderer) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

// Send 发送一条用户消息并流式渲染回答。
// 已有流在跑时先抢占。阻塞到本轮结束。
func (r *Renderer) Send(ctx context.Context, content model.MessageContent) error {
	r.preempt()

	r.mu.Lock()
	isNewChat := r.conversationID == ""
	if isNewChat {
		r.conversationID = model.NewConversationID(time.Now())
		r.title = defaultTitle
		conv := &model.Conversation{ID: r.conversationID, Title: r.title}
		if !r.opts.PrivateChat {
			if err := r.store.PutConversation(conv); err != nil {
				logger.Errorf("Failed to create conversation: %v", err)
			}
			if err := r.store.SetCurrentConversationID(r.conversationID); err != nil {
				logger.Errorf("Failed to set current conversation: %v", err)
			}
		}
	}

	userMsg := model.Message{Role: model.RoleUser, Content: content}
	req := &model.ChatRequest{
		Message:         content,
		Model:           r.opts.Model,
		SystemContent:   r.opts.SystemContent,
		Parameters:      r.opts.Parameters,
		Conversation:    cleanHistory(r.history),
		StartTag:        r.opts.StartTag,
		IsDeepQueryMode: r.opts.DeepQueryMode,
	}
	r.mu.Unlock()

	t := &turn{
		titleEligible: isNewChat,
		userMessage:   &userMsg,
		titleSource:   content,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return r.transport.Chat(ctx, req)
		},
	}
	return r.run(ctx, t, "")
}

// ContinueGeneration 从最后一条助手消息的末尾继续生成。
// 思考计时在上一轮的基础上累加。
func (r *Renderer) ContinueGeneration(ctx context.Context) error {
	r.preempt()

	r.mu.Lock()
	index := -1
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].Role == model.RoleAssistant {
			index = i
			break
		}
	}
	if index == -1 {
		r.mu.Unlock()
		return fmt.Errorf("no assistant message to continue")
	}

	msg := r.history[index]
	resume := &resumeState{
		index:    index,
		previous: msg.Content.RawText(),
		endTag:   msg.EndTag,
	}
	if msg.ThinkingTime != nil {
		resume.elapsed = time.Duration(*msg.ThinkingTime) * time.Millisecond
	}
	if msg.Content.Assistant != nil {
		resume.expanded = msg.Content.Assistant.ReasoningExpanded
	}

	req := &model.ContinueRequest{
		Conversation:  cleanHistory(r.history),
		Model:         r.opts.Model,
		SystemContent: r.opts.SystemContent,
		Parameters:    r.opts.Parameters,
	}
	titleEligible := r.title == "" || r.title == defaultTitle
	r.mu.Unlock()

	t := &turn{
		titleEligible: titleEligible,
		titleSource:   model.TextContent(resume.previous),
		resume:        resume,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return r.transport.Continue(ctx, req)
		},
	}
	return r.run(ctx, t, resume.previous)
}

// run 执行一次完整的流
func (r *Renderer) run(ctx context.Context, t *turn, accumulated string) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.state = StateRequesting
	r.cancel = cancel
	r.sessionDone = done
	sess := &session{
		timer:     r.newTimer(),
		cache:     markdown.NewTokenCache(r.lexer),
		messageID: uuid.New().String(),
		endTag:    r.opts.EndTag,
	}
	if t.resume != nil {
		sess.timer.ResumeFrom(t.resume.elapsed)
		sess.endTag = t.resume.endTag
		if sess.endTag == "" {
			sess.endTag = r.opts.EndTag
		}
	} else {
		sess.timer.Start()
	}
	r.mu.Unlock()

	defer func() {
		cancel()
		close(done)
		r.mu.Lock()
		r.cancel = nil
		r.sessionDone = nil
		// Aborted 和 Failed 是终态前的过渡，收尾后一律回到空闲
		r.lastOutcome = r.state
		r.state = StateIdle
		r.mu.Unlock()
	}()

	body, err := t.open(ctx)
	if err != nil {
		if isAbort(ctx, err) {
			r.setState(StateAborted)
			r.finishAborted(t, sess, accumulated)
			return nil
		}
		r.setState(StateFailed)
		r.finishFailed(t)
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer body.Close()

	r.setState(StateStreaming)

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			accumulated += string(buf[:n])
			r.processChunk(t, sess, accumulated)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if isAbort(ctx, readErr) {
				r.setState(StateAborted)
				r.finishAborted(t, sess, accumulated)
				return nil
			}
			r.setState(StateFailed)
			r.finishFailed(t)
			return fmt.Errorf("failed to read stream: %w", readErr)
		}
	}

	r.setState(StateFinalizing)
	r.finalize(ctx, t, sess, accumulated)
	return nil
}

// processChunk 对累计内容跑一遍渲染管线并按需发布
func (r *Renderer) processChunk(t *turn, sess *session, accumulated string) {
	r.mu.Lock()
	if !sess.tagSeen && markdown.HasEndTag(accumulated, sess.endTag) {
		sess.tagSeen = true
		sess.timer.Stop()
	}

	var live time.Duration
	if !sess.timer.Running() {
		live = sess.timer.Total()
	}
	// sess.endTag 是本次流开启时定格的标签，配置中途改了也不跟。
	// 历史要拷一份快照，流进行中 EditMessage 可能原地改底层数组
	hist := make([]model.Message, len(r.history))
	copy(hist, r.history)
	pre := &markdown.Preprocessor{
		EndTag:        sess.endTag,
		DeepQueryMode: r.opts.DeepQueryMode,
		LiveDuration:  live,
		History:       hist,
	}

	var hint *bool
	if t.resume != nil {
		hint = t.resume.expanded
	} else {
		collapsed := false
		hint = &collapsed
	}
	r.mu.Unlock()

	processed := pre.Preprocess(accumulated, hint, "")

	tokens := sess.cache.Tokens(processed)
	if !markdown.TokensEqual(tokens, sess.lastToks) {
		sess.lastToks = tokens
		r.publish(tokens)
	}

	if !sess.thinkSeen && markdown.ContainsThinkBlock(processed) {
		sess.thinkSeen = true
		r.sink.ThinkBlockAppeared()
	}
}

// publish 发布令牌，渲染面存在时跨发布保持选区
func (r *Renderer) publish(tokens []markdown.Token) {
	if r.surface == nil {
		r.sink.Publish(tokens)
		return
	}
	snap := selection.Capture(r.surface)
	r.sink.Publish(tokens)
	selection.Restore(r.surface, snap)
}

// finalize 正常收尾：写入历史、落库、按需补标题
func (r *Renderer) finalize(ctx context.Context, t *turn, sess *session, accumulated string) {
	ms := sess.timer.Stop().Milliseconds()

	r.mu.Lock()
	r.appendResult(t, sess, accumulated, ms)
	r.persistHistoryLocked()
	titleEligible := t.titleEligible || len(r.history) <= 2
	titleSource := t.titleSource
	mdl := r.opts.Model
	r.mu.Unlock()

	if !titleEligible {
		return
	}

	title, err := r.transport.GenerateTitle(ctx, &model.TitleRequest{
		Message:           titleSource,
		Model:             mdl,
		AssistantResponse: truncateRunes(accumulated, titleSourceLimit),
	})
	if err != nil {
		logger.Warnf("Failed to generate title: %v", err)
		return
	}

	r.mu.Lock()
	r.title = title
	r.persistHistoryLocked()
	r.mu.Unlock()
}

// finishAborted 中止收尾：部分内容照样入库，不补标题
func (r *Renderer) finishAborted(t *turn, sess *session, accumulated string) {
	if accumulated == "" && t.resume == nil {
		return
	}
	ms := sess.timer.Stop().Milliseconds()

	r.mu.Lock()
	r.appendResult(t, sess, accumulated, ms)
	r.persistHistoryLocked()
	r.mu.Unlock()
}

// finishFailed 失败收尾：用户消息照样入史，助手部分不保留
func (r *Renderer) finishFailed(t *turn) {
	if t.userMessage == nil {
		return
	}

	r.mu.Lock()
	r.history = append(r.history, *t.userMessage)
	r.persistHistoryLocked()
	r.mu.Unlock()
}

// appendResult 把本轮结果写进历史，调用方持锁
func (r *Renderer) appendResult(t *turn, sess *session, accumulated string, ms int64) {
	if t.resume != nil {
		idx := t.resume.index
		if idx < 0 || idx >= len(r.history) {
			return
		}
		msg := &r.history[idx]
		msg.Content = model.AssistantContentWithHint(accumulated, t.resume.expanded)
		msg.ThinkingTime = &ms
		return
	}

	assistant := model.Message{
		Role:         model.RoleAssistant,
		Content:      model.NewAssistantContent(accumulated, false),
		EndTag:       sess.endTag,
		ThinkingTime: &ms,
		MessageID:    sess.messageID,
	}
	if t.userMessage != nil {
		r.history = append(r.history, *t.userMessage)
	}
	r.history = append(r.history, assistant)
}

// persistHistoryLocked 把当前会话落库，隐私模式跳过，调用方持锁
func (r *Renderer) persistHistoryLocked() {
	if r.opts.PrivateChat || r.conversationID == "" {
		return
	}

	msgs := make([]model.Message, len(r.history))
	copy(msgs, r.history)
	conv := &model.Conversation{ID: r.conversationID, Title: r.title, Messages: msgs}
	if err := r.store.PutConversation(conv); err != nil {
		logger.Errorf("Failed to persist conversation %s: %v", r.conversationID, err)
	}
}

// Abort 取消进行中的流，空闲时是空操作
func (r *Renderer) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// preempt 取消进行中的流并等它完全收尾
func (r *Renderer) preempt() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.sessionDone
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ResendEdited 用改过的内容替换指定用户消息并重新发送，
// 该消息之后的所有内容被丢弃
func (r *Renderer) ResendEdited(ctx context.Context, index int, content model.MessageContent) error {
	r.preempt()

	r.mu.Lock()
	if index < 0 || index >= len(r.history) {
		r.mu.Unlock()
		return fmt.Errorf("message index %d out of range", index)
	}
	r.history = r.history[:index]
	r.mu.Unlock()

	return r.Send(ctx, content)
}

// DeleteMessage 删除指定消息以及它之后的全部消息
func (r *Renderer) DeleteMessage(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.history) {
		return fmt.Errorf("message index %d out of range", index)
	}
	r.history = r.history[:index]
	r.persistHistoryLocked()
	return nil
}

// EditMessage 原地更新指定消息的内容
func (r *Renderer) EditMessage(index int, content model.MessageContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.history) {
		return fmt.Errorf("message index %d out of range", index)
	}
	r.history[index].Content = content
	r.persistHistoryLocked()
	return nil
}

// SetReasoningExpanded 记住指定助手消息思考块的展开状态
func (r *Renderer) SetReasoningExpanded(messageID string, expanded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.history {
		if r.history[i].MessageID != messageID || r.history[i].Role != model.RoleAssistant {
			continue
		}
		raw := r.history[i].Content.RawText()
		r.history[i].Content = model.NewAssistantContent(raw, expanded)
		r.persistHistoryLocked()
		return nil
	}
	return fmt.Errorf("assistant message %s not found", messageID)
}

// NewChat 放弃当前会话状态，开一个空白会话
func (r *Renderer) NewChat() {
	r.preempt()

	r.mu.Lock()
	r.history = nil
	r.conversationID = ""
	r.title = ""
	r.mu.Unlock()

	if err := r.store.SetCurrentConversationID(""); err != nil {
		logger.Errorf("Failed to clear current conversation: %v", err)
	}
}

// SwitchConversation 载入指定会话
func (r *Renderer) SwitchConversation(id string) error {
	r.preempt()

	conv, err := r.store.GetConversation(id)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	r.mu.Lock()
	r.conversationID = conv.ID
	r.title = conv.Title
	r.history = make([]model.Message, len(conv.Messages))
	copy(r.history, conv.Messages)
	r.mu.Unlock()

	if err := r.store.SetCurrentConversationID(id); err != nil {
		logger.Errorf("Failed to set current conversation: %v", err)
	}
	return nil
}

// DeleteConversation 删除指定会话。
// 删的是当前会话时切到剩下最新的一个，没有剩的就开新会话。
func (r *Renderer) DeleteConversation(id string) error {
	r.mu.Lock()
	isCurrent := r.conversationID == id
	r.mu.Unlock()

	if isCurrent {
		r.preempt()
	}

	if err := r.store.DeleteConversation(id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	if !isCurrent {
		return nil
	}

	remaining, err := r.store.ListConversations()
	if err != nil || len(remaining) == 0 {
		r.NewChat()
		return nil
	}
	return r.SwitchConversation(remaining[0].ID)
}

func (r *Renderer) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// isAbort 只认主动取消，调用方超时按普通失败处理
func isAbort(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func cleanHistory(history []model.Message) []model.Message {
	out := make([]model.Message, len(history))
	for i, msg := range history {
		out[i] = msg.CleanForAPI()
	}
	return out
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
