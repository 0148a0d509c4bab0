package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github/closedbook/rag/models"
)

const titleRuneLimit = 15

// ChatStore persists chat transcripts, one JSON file per session, under
// each user's storage directory.
type ChatStore struct {
	storageRoot string
}

// NewChatStore creates a chat store rooted at the storage directory.
func NewChatStore(storageRoot string) *ChatStore {
	return &ChatStore{storageRoot: storageRoot}
}

// NewChatID derives a session id from the current time. Ids sort
// chronologically, which the listing relies on.
func NewChatID() string {
	return time.Now().Format("20060102_150405")
}

// Save writes the session to disk. The title is derived here, at save time,
// from the first user message.
func (c *ChatStore) Save(userID, chatID string, messages []models.Message, selectedFiles []string) error {
	dir, err := c.chatDir(userID)
	if err != nil {
		return err
	}

	session := models.ChatSession{
		ID:            chatID,
		Title:         deriveTitle(chatID, messages),
		Messages:      messages,
		SelectedFiles: selectedFiles,
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", chatID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, chatID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to save session %s: %w", chatID, err)
	}
	return nil
}

// Load reads one session back by id.
func (c *ChatStore) Load(userID, chatID string) (*models.ChatSession, error) {
	dir, err := c.chatDir(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(chatID)+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, chatID)
		}
		return nil, err
	}
	var session models.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", chatID, err)
	}
	session.ID = chatID
	return &session, nil
}

// List returns all of the user's sessions, most recent first. Unreadable
// files are skipped rather than failing the whole listing.
func (c *ChatStore) List(userID string) ([]models.ChatSummary, error) {
	dir, err := c.chatDir(userID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat history: %w", err)
	}

	summaries := make([]models.ChatSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		chatID := strings.TrimSuffix(entry.Name(), ".json")
		title := chatID
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("SERVICE WARN: Skipping unreadable session %s: %v", chatID, err)
			continue
		}
		var session models.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			log.Printf("SERVICE WARN: Skipping corrupt session %s: %v", chatID, err)
			continue
		}
		if session.Title != "" {
			title = session.Title
		}
		summaries = append(summaries, models.ChatSummary{ID: chatID, Title: title})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID > summaries[j].ID })
	return summaries, nil
}

// Delete removes one session. Sessions are never deleted automatically;
// this backs the explicit delete button only.
func (c *ChatStore) Delete(userID, chatID string) error {
	dir, err := c.chatDir(userID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(chatID)+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: session %s", models.ErrNotFound, chatID)
		}
		return fmt.Errorf("failed to delete session %s: %w", chatID, err)
	}
	return nil
}

func (c *ChatStore) chatDir(userID string) (string, error) {
	dir := filepath.Join(c.storageRoot, filepath.Base(userID), "chat_history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create chat history directory: %w", err)
	}
	return dir, nil
}

// deriveTitle takes the first 15 characters of the first user message,
// falling back to the session id for transcripts with no user turn.
func deriveTitle(chatID string, messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) > titleRuneLimit {
			return string(runes[:titleRuneLimit]) + "..."
		}
		return msg.Content
	}
	return chatID
}
