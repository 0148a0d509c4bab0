package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github/closedbook/rag/config"
	"github/closedbook/rag/llm"
	"github/closedbook/rag/models"
	"github/closedbook/rag/store"
)

// SyncService keeps each user's persisted index reconciled with the files
// they have selected. Documents outside the current selection keep their
// embeddings (so toggling a selection never re-embeds); documents whose
// source file disappeared are pruned.
type SyncService struct {
	storageRoot  string
	indexBackend string
	chromaURL    string
	docs         *DocStore
	client       llm.Client
	splitter     textsplitter.RecursiveCharacter

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	indexes map[string]store.Index
	// synced memoises reconciliation per (user, sorted selection) until the
	// user's file set changes.
	synced map[string]map[string]bool
}

// NewSyncService creates the synchronizer and hooks itself into the
// document store's change notifications.
func NewSyncService(cfg *config.Config, docs *DocStore, client llm.Client) *SyncService {
	s := &SyncService{
		storageRoot:  cfg.StorageDir,
		indexBackend: cfg.IndexBackend,
		chromaURL:    cfg.ChromaURL,
		docs:         docs,
		client:       client,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		locks:   make(map[string]*sync.Mutex),
		indexes: make(map[string]store.Index),
		synced:  make(map[string]map[string]bool),
	}
	docs.SetChangeHook(s.Invalidate)
	return s
}

// IndexDir returns the directory a user's local index persists to.
func (s *SyncService) IndexDir(userID string) string {
	return filepath.Join(s.storageRoot, filepath.Base(userID), "index")
}

// Sync reconciles the user's index with the selected files and returns it.
// An empty selection returns (nil, nil) without touching storage: no index
// is built over zero files. Calling Sync twice with an unchanged file set
// performs no embedding calls and no writes.
func (s *SyncService) Sync(ctx context.Context, userID string, selection []string) (store.Index, error) {
	if len(selection) == 0 {
		return nil, nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	key := selectionKey(selection)
	if idx := s.memoised(userID, key); idx != nil {
		return idx, nil
	}

	idx, err := s.openIndex(ctx, userID)
	if err != nil {
		return nil, err
	}

	fingerprints, err := idx.Fingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read index state for %s: %w", userID, err)
	}

	dirty := false
	for _, name := range selection {
		path, err := s.docs.Path(userID, name)
		if err != nil {
			return nil, err
		}
		doc, err := loadDocument(name, path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", models.ErrInvalidSelection, name)
			}
			return nil, err
		}
		if fingerprints[doc.ID] == doc.Hash {
			continue
		}
		log.Printf("INDEXER: Indexing new/modified file: %s/%s", userID, name)
		if err := s.reindexDocument(ctx, idx, doc); err != nil {
			return nil, err
		}
		dirty = true
	}

	// Prune documents whose source file no longer exists. Files that still
	// exist but are outside the selection keep their chunks.
	current, err := s.docs.List(userID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(current))
	for _, name := range current {
		present[name] = true
	}
	for docID := range fingerprints {
		if !present[docID] {
			log.Printf("INDEXER: File deleted: %s/%s. Removing from index...", userID, docID)
			if err := idx.DeleteDocument(ctx, docID); err != nil {
				return nil, fmt.Errorf("failed to delete records for %s: %w", docID, err)
			}
			dirty = true
		}
	}

	if dirty {
		log.Printf("INDEXER: Index for %s updated and persisted.", userID)
	}

	s.markSynced(userID, key)
	return idx, nil
}

// Invalidate drops every memoised sync result for the user. Called on any
// document add/delete/rebuild so the next Sync re-reconciles.
func (s *SyncService) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.synced, userID)
}

// Rebuild wipes the user's persisted index entirely. The next Sync
// re-embeds every selected document from scratch.
func (s *SyncService) Rebuild(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	idx := s.indexes[userID]
	delete(s.indexes, userID)
	s.mu.Unlock()

	if idx != nil {
		if err := idx.Close(); err != nil {
			log.Printf("INDEXER WARN: Failed to close index for %s: %v", userID, err)
		}
	}

	if s.indexBackend == config.IndexChroma {
		chr, err := store.OpenChroma(ctx, s.chromaURL, userID)
		if err != nil {
			return err
		}
		defer chr.Close()
		fingerprints, err := chr.Fingerprints(ctx)
		if err != nil {
			return err
		}
		for docID := range fingerprints {
			if err := chr.DeleteDocument(ctx, docID); err != nil {
				return err
			}
		}
	} else {
		if err := os.RemoveAll(s.IndexDir(userID)); err != nil {
			return fmt.Errorf("failed to clear index directory: %w", err)
		}
	}

	s.Invalidate(userID)
	log.Printf("INDEXER: Index for %s cleared.", userID)
	return nil
}

// Watch invalidates memoised sync results whenever files change on disk,
// including changes made outside the API. User directories are picked up as
// they appear. Blocks until the context is cancelled.
func (s *SyncService) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WATCHER ERROR: Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	root := s.docs.Root()
	if err := watcher.Add(root); err != nil {
		log.Printf("WATCHER ERROR: Failed to watch data root: %v", err)
		return
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
					log.Printf("WATCHER WARN: Failed to watch %s: %v", entry.Name(), err)
				}
			}
		}
	}
	log.Printf("WATCHER: Watching data root: %s", root)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Has(fsnotify.Create) {
					if err := watcher.Add(event.Name); err != nil {
						log.Printf("WATCHER WARN: Failed to watch %s: %v", event.Name, err)
					}
				}
				continue
			}
			if !isSupportedFile(event.Name) {
				continue
			}
			userID := filepath.Base(filepath.Dir(event.Name))
			log.Printf("WATCHER EVENT: %s (user %s)", event, userID)
			s.Invalidate(userID)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WATCHER ERROR: %v", err)

		case <-ctx.Done():
			log.Println("WATCHER: Context cancelled, shutting down watcher.")
			return
		}
	}
}

// reindexDocument embeds every chunk of the document, then replaces its
// chunk set atomically. If the file changed while it was being embedded the
// work is retried once before giving up with a sync conflict; nothing is
// committed for a document whose embedding pass failed.
func (s *SyncService) reindexDocument(ctx context.Context, idx store.Index, doc models.Document) error {
	for attempt := 0; attempt < 2; attempt++ {
		chunks, err := s.embedDocument(ctx, doc)
		if err != nil {
			return err
		}

		currentHash, err := hashFile(doc.Path)
		if err != nil {
			return fmt.Errorf("could not re-hash %s: %w", doc.ID, err)
		}
		if currentHash != doc.Hash {
			log.Printf("INDEXER: File %s changed during sync, retrying...", doc.ID)
			fresh, err := loadDocument(doc.ID, doc.Path)
			if err != nil {
				return err
			}
			doc = fresh
			continue
		}

		return idx.ReplaceDocument(ctx, doc, chunks)
	}
	return fmt.Errorf("%w: %s", models.ErrSyncConflict, doc.ID)
}

func (s *SyncService) embedDocument(ctx context.Context, doc models.Document) ([]models.Chunk, error) {
	texts, err := s.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("could not split %s: %w", doc.ID, err)
	}
	log.Printf("INDEXER: Split %s into %d chunks.", doc.ID, len(texts))

	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		embedding, err := s.client.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("could not embed chunk %d of %s: %w", i, doc.ID, err)
		}
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s-chunk%d", uuid.New().String(), i),
			DocumentID: doc.ID,
			Position:   i,
			Text:       text,
			Embedding:  embedding,
		})
	}
	return chunks, nil
}

// openIndex returns the user's open index handle, loading the persisted
// state if present. A corrupt local index is wiped and rebuilt empty rather
// than crashing.
func (s *SyncService) openIndex(ctx context.Context, userID string) (store.Index, error) {
	s.mu.Lock()
	if idx, ok := s.indexes[userID]; ok {
		s.mu.Unlock()
		return idx, nil
	}
	s.mu.Unlock()

	var idx store.Index
	var err error
	if s.indexBackend == config.IndexChroma {
		idx, err = store.OpenChroma(ctx, s.chromaURL, userID)
	} else {
		dir := s.IndexDir(userID)
		idx, err = store.OpenLocal(dir)
		if errors.Is(err, models.ErrStorageCorrupt) {
			log.Printf("INDEXER WARN: Corrupt index for %s, rebuilding from scratch: %v", userID, err)
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("failed to clear corrupt index: %w", err)
			}
			idx, err = store.OpenLocal(dir)
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.indexes[userID] = idx
	s.mu.Unlock()
	return idx, nil
}

func (s *SyncService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *SyncService) memoised(userID, key string) store.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced[userID][key] {
		return s.indexes[userID]
	}
	return nil
}

func (s *SyncService) markSynced(userID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced[userID] == nil {
		s.synced[userID] = make(map[string]bool)
	}
	s.synced[userID][key] = true
}

// loadDocument reads and extracts one source file, fingerprinting the raw
// bytes so a later change is detectable.
func loadDocument(id, path string) (models.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, err
	}
	text, err := ExtractTextFromFile(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("could not extract text from %s: %w", id, err)
	}
	sum := sha256.Sum256(raw)
	return models.Document{
		ID:   id,
		Path: path,
		Text: text,
		Hash: hex.EncodeToString(sum[:]),
	}, nil
}

func hashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func selectionKey(selection []string) string {
	sorted := make([]string, len(selection))
	copy(sorted, selection)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}
