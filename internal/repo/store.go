package repo

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
)

var (
	ErrChatNotFound   = errors.New("chat_not_found")
	ErrChatIDRequired = errors.New("chat_id_required")
)

const (
	defaultChatName = "New chat"
	chatNameRunes   = 48
	// fixed width so timestamps sort as strings
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var log = logger.Named("repo")

type State struct {
	Chats     map[string]domain.ChatSpec  `json:"chats"`
	Histories map[string][]domain.Message `json:"histories"`
}

// Store keeps every chat in one JSON file under the data directory.
type Store struct {
	mu        sync.RWMutex
	state     State
	stateFile string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		stateFile: filepath.Join(dataDir, "state.json"),
		state:     defaultState(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultState() State {
	return State{
		Chats:     map[string]domain.ChatSpec{},
		Histories: map[string][]domain.Message{},
	}
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return s.save(s.state)
	}
	if err != nil {
		return err
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	if state.Chats == nil {
		state.Chats = map[string]domain.ChatSpec{}
	}
	if state.Histories == nil {
		state.Histories = map[string][]domain.Message{}
	}
	for id := range state.Histories {
		if _, ok := state.Chats[id]; !ok {
			log.WithField("chat_id", id).Warn("dropping history without chat")
			delete(state.Histories, id)
		}
	}
	s.state = state
	return nil
}

// clone copies the maps so a failed write leaves the live state untouched. History slices are replaced, never edited.
func (st State) clone() State {
	return State{
		Chats:     maps.Clone(st.Chats),
		Histories: maps.Clone(st.Histories),
	}
}

func (s *Store) save(state State) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.stateFile)
}

func (s *Store) Read(fn func(state *State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

func (s *Store) Write(fn func(state *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) ListChats(_ context.Context) ([]domain.ChatSpec, error) {
	out := []domain.ChatSpec{}
	s.Read(func(state *State) {
		for _, chat := range state.Chats {
			out = append(out, chat)
		}
	})
	sortChats(out)
	return out, nil
}

func (s *Store) GetChat(_ context.Context, chatID string) (domain.ChatHistory, error) {
	var (
		history domain.ChatHistory
		found   bool
	)
	s.Read(func(state *State) {
		chat, ok := state.Chats[chatID]
		if !ok {
			return
		}
		found = true
		history = domain.ChatHistory{
			Chat:     chat,
			Messages: append([]domain.Message{}, state.Histories[chatID]...),
		}
	})
	if !found {
		return domain.ChatHistory{}, ErrChatNotFound
	}
	return history, nil
}

// SaveChat replaces the stored history of chatID, creating the chat on first save.
func (s *Store) SaveChat(_ context.Context, chatID string, messages []domain.Message) (domain.ChatSpec, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.ChatSpec{}, ErrChatIDRequired
	}
	var saved domain.ChatSpec
	err := s.Write(func(state *State) error {
		now := nowUTC()
		chat, ok := state.Chats[chatID]
		if !ok {
			chat = domain.ChatSpec{ID: chatID, Name: ChatName(messages), CreatedAt: now}
		}
		chat.UpdatedAt = now
		chat.MessageCount = len(messages)
		state.Chats[chatID] = chat
		state.Histories[chatID] = append([]domain.Message{}, messages...)
		saved = chat
		return nil
	})
	return saved, err
}

func (s *Store) DeleteChat(_ context.Context, chatID string) error {
	return s.Write(func(state *State) error {
		if _, ok := state.Chats[chatID]; !ok {
			return ErrChatNotFound
		}
		delete(state.Chats, chatID)
		delete(state.Histories, chatID)
		return nil
	})
}

// ChatName derives a display name from the first user message.
func ChatName(messages []domain.Message) string {
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(msg.Text()), " ")
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > chatNameRunes {
			return string(runes[:chatNameRunes]) + "..."
		}
		return text
	}
	return defaultChatName
}

func sortChats(chats []domain.ChatSpec) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt != chats[j].UpdatedAt {
			return chats[i].UpdatedAt > chats[j].UpdatedAt
		}
		return chats[i].ID < chats[j].ID
	})
}

func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}
