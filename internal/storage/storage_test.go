package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webchat/internal/model"
)

func sampleConversation(id, title string) *model.Conversation {
	expanded := true
	ms := int64(2500)
	return &model.Conversation{
		ID:    id,
		Title: title,
		Messages: []model.Message{
			{Role: model.RoleUser, Content: model.TextContent("hello")},
			{
				Role:         model.RoleAssistant,
				Content:      model.AssistantContentWithHint("<think>hmm</think>hi", &expanded),
				EndTag:       "</think>",
				ThinkingTime: &ms,
				MessageID:    "msg-1",
			},
		},
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	disk := NewDiskStore(t.TempDir(), 10)
	require.NoError(t, disk.Init())
	return map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   disk,
	}
}

func TestStoreConversationRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			conv := sampleConversation("1700000000000", "First chat")
			require.NoError(t, store.PutConversation(conv))

			got, err := store.GetConversation(conv.ID)
			require.NoError(t, err)
			assert.Equal(t, conv.Title, got.Title)
			require.Len(t, got.Messages, 2)

			// 结构化助手内容要完整存活
			assistant := got.Messages[1]
			assert.Equal(t, "<think>hmm</think>hi", assistant.Content.RawText())
			assert.Equal(t, "</think>", assistant.EndTag)
			require.NotNil(t, assistant.ThinkingTime)
			assert.Equal(t, int64(2500), *assistant.ThinkingTime)
			assert.Equal(t, "msg-1", assistant.MessageID)
			require.NotNil(t, assistant.Content.Assistant)
			require.NotNil(t, assistant.Content.Assistant.ReasoningExpanded)
			assert.True(t, *assistant.Content.Assistant.ReasoningExpanded)
		})
	}
}

func TestStoreConversationNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetConversation("nope")
			assert.ErrorIs(t, err, ErrConversationNotFound)
			assert.ErrorIs(t, store.DeleteConversation("nope"), ErrConversationNotFound)
		})
	}
}

func TestStoreListSortedNewestFirst(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.PutConversation(sampleConversation("1700000000001", "old")))
			require.NoError(t, store.PutConversation(sampleConversation("1700000000003", "new")))
			require.NoError(t, store.PutConversation(sampleConversation("1700000000002", "mid")))

			convs, err := store.ListConversations()
			require.NoError(t, err)
			require.Len(t, convs, 3)
			assert.Equal(t, "new", convs[0].Title)
			assert.Equal(t, "mid", convs[1].Title)
			assert.Equal(t, "old", convs[2].Title)
		})
	}
}

func TestStoreDeleteConversation(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			conv := sampleConversation("1700000000000", "bye")
			require.NoError(t, store.PutConversation(conv))
			require.NoError(t, store.SetCurrentConversationID(conv.ID))

			require.NoError(t, store.DeleteConversation(conv.ID))

			_, err := store.GetConversation(conv.ID)
			assert.ErrorIs(t, err, ErrConversationNotFound)

			// 删掉当前会话后指针要清空
			current, err := store.CurrentConversationID()
			require.NoError(t, err)
			assert.Equal(t, "", current)
		})
	}
}

func TestStoreSettings(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetSetting("api_key")
			assert.ErrorIs(t, err, ErrSettingNotFound)

			require.NoError(t, store.PutSetting("api_key", "sk-test"))
			value, err := store.GetSetting("api_key")
			require.NoError(t, err)
			assert.Equal(t, "sk-test", value)
		})
	}
}

func TestStoreCurrentConversationDefaultsEmpty(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			current, err := store.CurrentConversationID()
			require.NoError(t, err)
			assert.Equal(t, "", current)

			require.NoError(t, store.SetCurrentConversationID("123"))
			current, err = store.CurrentConversationID()
			require.NoError(t, err)
			assert.Equal(t, "123", current)
		})
	}
}

func TestDiskStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first := NewDiskStore(dir, 10)
	require.NoError(t, first.Init())
	require.NoError(t, first.PutConversation(sampleConversation("1700000000000", "persisted")))
	require.NoError(t, first.SetCurrentConversationID("1700000000000"))
	require.NoError(t, first.Close())

	second := NewDiskStore(dir, 10)
	require.NoError(t, second.Init())

	got, err := second.GetConversation("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)

	current, err := second.CurrentConversationID()
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", current)
}

func TestDiskStoreWritesAreAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStore(dir, 10)
	require.NoError(t, store.Init())
	require.NoError(t, store.PutConversation(sampleConversation("1700000000000", "x")))

	// 落盘后不该留下临时文件
	entries, err := os.ReadDir(filepath.Join(dir, "conversations"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestDiskStoreCacheEviction(t *testing.T) {
	store := NewDiskStore(t.TempDir(), 2)
	require.NoError(t, store.Init())

	require.NoError(t, store.PutConversation(sampleConversation("1700000000001", "a")))
	require.NoError(t, store.PutConversation(sampleConversation("1700000000002", "b")))
	require.NoError(t, store.PutConversation(sampleConversation("1700000000003", "c")))

	assert.LessOrEqual(t, len(store.cache), 2)

	// 被淘汰的会话照样能从磁盘读回来
	got, err := store.GetConversation("1700000000001")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
}
