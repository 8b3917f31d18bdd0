package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"webchat/internal/model"
	"webchat/pkg/logger"
)

// DiskStore 把会话存成 conversations/ 下的 JSON 文件，
// 另维护一份只含 ID 和标题的索引供列表页用。
// 写入一律先落临时文件再改名，避免写到一半的文件被读到。
type DiskStore struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Conversation
	cacheSize int
}

// ConversationIndex 是索引文件里的一条记录
type ConversationIndex struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type currentPointer struct {
	ID string `json:"id"`
}

func NewDiskStore(dataDir string, cacheSize int) *DiskStore {
	return &DiskStore{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Conversation),
		cacheSize: cacheSize,
	}
}

func (d *DiskStore) Init() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "conversations"), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.warmCache(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk store initialized successfully")
	return nil
}

func (d *DiskStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Conversation)
	return nil
}

// warmCache 按索引预载最近的会话
func (d *DiskStore) warmCache() error {
	indexPath := filepath.Join(d.dataDir, "conversations.json")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return d.saveIndex([]*ConversationIndex{})
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}

	var indexes []*ConversationIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		conv, err := d.loadConversationFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load conversation %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = conv
	}

	return nil
}

func (d *DiskStore) conversationPath(id string) string {
	return filepath.Join(d.dataDir, "conversations", id+".json")
}

func (d *DiskStore) loadConversationFromFile(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(d.conversationPath(id))
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}

	return &conv, nil
}

func (d *DiskStore) writeJSONFile(path string, value interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStore) saveIndex(indexes []*ConversationIndex) error {
	return d.writeJSONFile(filepath.Join(d.dataDir, "conversations.json"), indexes)
}

// rebuildIndex 扫描会话目录重建索引，目录是唯一事实来源
func (d *DiskStore) rebuildIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, "conversations"))
	if err != nil {
		return err
	}

	var indexes []*ConversationIndex
	for _, file := range files {
		name := file.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}

		id := name[:len(name)-5]
		conv, err := d.loadConversationFromFile(id)
		if err != nil {
			logger.Errorf("Failed to load conversation %s for index update: %v", id, err)
			continue
		}

		indexes = append(indexes, &ConversationIndex{ID: conv.ID, Title: conv.Title})
	}

	return d.saveIndex(indexes)
}

func (d *DiskStore) PutConversation(conv *model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeJSONFile(d.conversationPath(conv.ID), conv); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.rebuildIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[conv.ID] = conv
	d.evictCache()

	return nil
}

func (d *DiskStore) GetConversation(id string) (*model.Conversation, error) {
	d.mu.RLock()
	if conv, exists := d.cache[id]; exists {
		d.mu.RUnlock()
		return conv, nil
	}
	d.mu.RUnlock()

	conv, err := d.loadConversationFromFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[id] = conv
	d.evictCache()
	d.mu.Unlock()

	return conv, nil
}

func (d *DiskStore) DeleteConversation(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.conversationPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrConversationNotFound
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, id)

	if current, err := d.readCurrent(); err == nil && current == id {
		if err := d.writeCurrent(""); err != nil {
			logger.Errorf("Failed to clear current conversation pointer: %v", err)
		}
	}

	return d.rebuildIndex()
}

func (d *DiskStore) ListConversations() ([]*model.Conversation, error) {
	indexPath := filepath.Join(d.dataDir, "conversations.json")

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var indexes []*ConversationIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	convs := make([]*model.Conversation, 0, len(indexes))
	for _, index := range indexes {
		convs = append(convs, &model.Conversation{ID: index.ID, Title: index.Title})
	}

	sortConversations(convs)
	return convs, nil
}

func (d *DiskStore) settingsPath() string {
	return filepath.Join(d.dataDir, "settings.json")
}

func (d *DiskStore) readSettings() (map[string]string, error) {
	data, err := os.ReadFile(d.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	settings := make(map[string]string)
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (d *DiskStore) GetSetting(key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	settings, err := d.readSettings()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	value, exists := settings[key]
	if !exists {
		return "", ErrSettingNotFound
	}
	return value, nil
}

func (d *DiskStore) PutSetting(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	settings, err := d.readSettings()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	settings[key] = value
	if err := d.writeJSONFile(d.settingsPath(), settings); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) currentPath() string {
	return filepath.Join(d.dataDir, "current.json")
}

func (d *DiskStore) readCurrent() (string, error) {
	data, err := os.ReadFile(d.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var ptr currentPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return "", err
	}
	return ptr.ID, nil
}

func (d *DiskStore) writeCurrent(id string) error {
	return d.writeJSONFile(d.currentPath(), currentPointer{ID: id})
}

func (d *DiskStore) CurrentConversationID() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, err := d.readCurrent()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return id, nil
}

func (d *DiskStore) SetCurrentConversationID(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeCurrent(id); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// evictCache 超出容量时优先淘汰最老的会话，ID 越小越老
func (d *DiskStore) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	ids := make([]*model.Conversation, 0, len(d.cache))
	for _, conv := range d.cache {
		ids = append(ids, conv)
	}
	sortConversations(ids)

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, ids[len(ids)-1-i].ID)
	}
}
