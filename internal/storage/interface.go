package storage

import (
	"sort"
	"strconv"

	"webchat/internal/model"
)

// Store 是会话持久化的抽象，内存实现用于测试和隐私模式
type Store interface {
	// 会话管理
	PutConversation(conv *model.Conversation) error
	GetConversation(id string) (*model.Conversation, error)
	DeleteConversation(id string) error
	// ListConversations 按会话 ID 的数值降序返回，新会话在前
	ListConversations() ([]*model.Conversation, error)

	// 设置项
	GetSetting(key string) (string, error)
	PutSetting(key, value string) error

	// 当前会话指针，未设置时返回空串
	CurrentConversationID() (string, error)
	SetCurrentConversationID(id string) error

	// 存储管理
	Init() error
	Close() error
}

// sortConversations 按 ID 降序原地排序。
// ID 是毫秒时间戳字符串，能解析成数字就按数字比，
// 解析不了退化成字符串比较。
func sortConversations(convs []*model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i].ID, convs[j].ID
		ai, aerr := strconv.ParseInt(a, 10, 64)
		bi, berr := strconv.ParseInt(b, 10, 64)
		if aerr == nil && berr == nil {
			return ai > bi
		}
		return a > b
	})
}
