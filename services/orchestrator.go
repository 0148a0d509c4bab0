package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github/closedbook/rag/models"
)

// Phase is the orchestrator's position in the per-session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSync
	PhaseQuerying
	PhaseStreaming
	PhasePersisting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingSync:
		return "awaiting_sync"
	case PhaseQuerying:
		return "querying"
	case PhaseStreaming:
		return "streaming"
	case PhasePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// SessionState is the explicit, inspectable state of one conversation. It
// replaces ambient processing flags: the single in-flight invariant is just
// "Phase must be Idle to start anything".
type SessionState struct {
	ChatID    string
	Messages  []models.Message
	Selection []string
	Phase     Phase
}

type sessionSlot struct {
	mu    sync.Mutex
	state SessionState
}

// Orchestrator sequences sync, query and persistence per user interaction.
// Operations within a session are sequential; at most one generation is in
// flight per session, and a failed attempt leaves the transcript exactly as
// it was.
type Orchestrator struct {
	syncSvc  *SyncService
	querySvc *QueryService
	chats    *ChatStore

	mu       sync.Mutex
	sessions map[string]*sessionSlot
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(syncSvc *SyncService, querySvc *QueryService, chats *ChatStore) *Orchestrator {
	return &Orchestrator{
		syncSvc:  syncSvc,
		querySvc: querySvc,
		chats:    chats,
		sessions: make(map[string]*sessionSlot),
	}
}

// NewChat starts a fresh conversation and returns its id.
func (o *Orchestrator) NewChat(userID string) string {
	chatID := NewChatID()
	slot := o.slot(userID, chatID)
	slot.mu.Lock()
	slot.state = SessionState{ChatID: chatID, Phase: PhaseIdle}
	slot.mu.Unlock()
	return chatID
}

// LoadChat restores a saved conversation into the orchestrator and returns
// it for display.
func (o *Orchestrator) LoadChat(userID, chatID string) (*models.ChatSession, error) {
	session, err := o.chats.Load(userID, chatID)
	if err != nil {
		return nil, err
	}
	slot := o.slot(userID, chatID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.state.Phase != PhaseIdle {
		return nil, models.ErrSessionBusy
	}
	slot.state = SessionState{
		ChatID:    chatID,
		Messages:  session.Messages,
		Selection: session.SelectedFiles,
		Phase:     PhaseIdle,
	}
	return session, nil
}

// DeleteChat removes a saved conversation and any live state for it.
func (o *Orchestrator) DeleteChat(userID, chatID string) error {
	if err := o.chats.Delete(userID, chatID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.sessions, sessionKey(userID, chatID))
	o.mu.Unlock()
	return nil
}

// State returns a copy of the session's current state.
func (o *Orchestrator) State(userID, chatID string) SessionState {
	slot := o.slot(userID, chatID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	state := slot.state
	state.Messages = append([]models.Message(nil), slot.state.Messages...)
	state.Selection = append([]string(nil), slot.state.Selection...)
	return state
}

// SetSelection records the user's current document selection and brings the
// index up to date with it.
func (o *Orchestrator) SetSelection(ctx context.Context, userID, chatID string, selection []string) error {
	slot := o.slot(userID, chatID)
	if err := o.begin(slot, PhaseAwaitingSync); err != nil {
		return err
	}
	defer o.idle(slot)

	if _, err := o.syncSvc.Sync(ctx, userID, selection); err != nil {
		return err
	}
	slot.mu.Lock()
	slot.state.Selection = append([]string(nil), selection...)
	slot.mu.Unlock()
	return nil
}

// Ask answers a free-form question without streaming. The transcript gains
// exactly one user/assistant pair, and only after the answer is persisted.
func (o *Orchestrator) Ask(ctx context.Context, userID, chatID, question string, selection []string) (string, []models.RetrievedChunk, error) {
	slot := o.slot(userID, chatID)
	if err := o.begin(slot, PhaseQuerying); err != nil {
		return "", nil, err
	}
	defer o.idle(slot)

	idx, err := o.syncSvc.Sync(ctx, userID, selection)
	if err != nil {
		return "", nil, err
	}

	answer, sources, err := o.querySvc.Answer(ctx, idx, question, selection, o.querySvc.ChatTopK())
	if err != nil {
		return "", nil, err
	}

	if err := o.commit(slot, userID, chatID, question, answer, selection); err != nil {
		return "", nil, err
	}
	return answer, sources, nil
}

// AskStream answers a free-form question as a fragment stream. Each
// fragment is handed to onFragment before the next is requested; the full
// answer is persisted only once the stream is exhausted. A mid-stream
// failure leaves the transcript untouched.
func (o *Orchestrator) AskStream(ctx context.Context, userID, chatID, question string, selection []string, onFragment func(fragment string)) (string, error) {
	slot := o.slot(userID, chatID)
	if err := o.begin(slot, PhaseQuerying); err != nil {
		return "", err
	}
	defer o.idle(slot)

	idx, err := o.syncSvc.Sync(ctx, userID, selection)
	if err != nil {
		return "", err
	}

	fragments, errs, _, err := o.querySvc.AnswerStream(ctx, idx, question, selection, o.querySvc.ChatTopK())
	if err != nil {
		return "", err
	}

	o.setPhase(slot, PhaseStreaming)
	var sb strings.Builder
	for fragment := range fragments {
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	if err := <-errs; err != nil {
		return "", err
	}

	answer := sb.String()
	if err := o.commit(slot, userID, chatID, question, answer, selection); err != nil {
		return "", err
	}
	return answer, nil
}

// RunTask executes one of the canned analysis tasks with the wider task
// top-k. The transcript records the task banner as the user turn.
func (o *Orchestrator) RunTask(ctx context.Context, userID, chatID, task string, selection []string) (string, string, error) {
	prompt, banner, err := TaskPrompt(task)
	if err != nil {
		return "", "", err
	}

	slot := o.slot(userID, chatID)
	if err := o.begin(slot, PhaseQuerying); err != nil {
		return "", "", err
	}
	defer o.idle(slot)

	idx, err := o.syncSvc.Sync(ctx, userID, selection)
	if err != nil {
		return "", "", err
	}

	answer, _, err := o.querySvc.Answer(ctx, idx, prompt, selection, o.querySvc.TaskTopK())
	if err != nil {
		return "", "", err
	}

	if err := o.commit(slot, userID, chatID, banner, answer, selection); err != nil {
		return "", "", err
	}
	return banner, answer, nil
}

// begin transitions Idle -> phase, rejecting the call if anything is
// already in flight for the session.
func (o *Orchestrator) begin(slot *sessionSlot, phase Phase) error {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.state.Phase != PhaseIdle {
		return fmt.Errorf("%w (currently %s)", models.ErrSessionBusy, slot.state.Phase)
	}
	slot.state.Phase = phase
	return nil
}

func (o *Orchestrator) setPhase(slot *sessionSlot, phase Phase) {
	slot.mu.Lock()
	slot.state.Phase = phase
	slot.mu.Unlock()
}

// idle returns the session to Idle regardless of how the operation ended.
// Errors surface to the caller; the transcript is only ever mutated by
// commit.
func (o *Orchestrator) idle(slot *sessionSlot) {
	o.setPhase(slot, PhaseIdle)
}

// commit appends the exchange and persists it. The in-memory transcript is
// updated only after the write succeeds, so a failed save rolls back too.
func (o *Orchestrator) commit(slot *sessionSlot, userID, chatID, userText, assistantText string, selection []string) error {
	o.setPhase(slot, PhasePersisting)

	slot.mu.Lock()
	messages := append([]models.Message(nil), slot.state.Messages...)
	slot.mu.Unlock()

	messages = append(messages,
		models.Message{Role: models.RoleUser, Content: userText},
		models.Message{Role: models.RoleAssistant, Content: assistantText},
	)

	if err := o.chats.Save(userID, chatID, messages, selection); err != nil {
		log.Printf("SERVICE ERROR: Failed to persist session %s: %v", chatID, err)
		return fmt.Errorf("failed to persist transcript: %w", err)
	}

	slot.mu.Lock()
	slot.state.Messages = messages
	slot.state.Selection = append([]string(nil), selection...)
	slot.mu.Unlock()
	return nil
}

func (o *Orchestrator) slot(userID, chatID string) *sessionSlot {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := sessionKey(userID, chatID)
	slot, ok := o.sessions[key]
	if !ok {
		slot = &sessionSlot{state: SessionState{ChatID: chatID, Phase: PhaseIdle}}
		o.sessions[key] = slot
	}
	return slot
}

func sessionKey(userID, chatID string) string {
	return userID + "/" + chatID
}
