package convo

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

// DefaultAskTimeout bounds a single responder call. A hung responder is
// surfaced as a collaborator failure, not a stuck context.
const DefaultAskTimeout = 5 * time.Minute

// Manager accepts messages for contexts and drives the responder. At most
// one response loop runs per context; different contexts are fully
// independent.
type Manager struct {
	db         *gorm.DB
	responder  Responder
	askTimeout time.Duration

	mu     sync.Mutex
	states map[uint]*contextState
}

// contextState is the per-context serialization point. Its mutex guards the
// pending queue, the running flag, and the live exchange together with the
// matching store writes, so the DB flag never disagrees with the goroutine
// that owns it.
type contextState struct {
	mu      sync.Mutex
	running bool
	pending []string
	exch    Exchange
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	DB         *gorm.DB
	Responder  Responder
	AskTimeout time.Duration // defaults to DefaultAskTimeout
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("convo: manager: db is required")
	}
	if opts.Responder == nil {
		return nil, fmt.Errorf("convo: manager: responder is required")
	}
	timeout := opts.AskTimeout
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	return &Manager{
		db:         opts.DB,
		responder:  opts.Responder,
		askTimeout: timeout,
		states:     make(map[uint]*contextState),
	}, nil
}

func (m *Manager) state(contextID uint) *contextState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[contextID]
	if !ok {
		st = &contextState{}
		m.states[contextID] = st
	}
	return st
}

// Send accepts a message for a context and returns its turn number.
//
// user: appended, queued, and answered by the responder; starts a response
// loop when none is running. intervention: appended and injected into the
// live exchange without touching the processing state. system: appended
// verbatim. Closed contexts reject user and intervention sends.
func (m *Manager) Send(ctx context.Context, contextID uint, role, content string) (int, error) {
	switch role {
	case models.RoleUser:
		return m.sendUser(ctx, contextID, content)
	case models.RoleIntervention:
		return m.Intervene(ctx, contextID, content)
	case models.RoleSystem:
		msg, err := store.AppendMessage(m.db, contextID, models.RoleSystem, content)
		if err != nil {
			return 0, err
		}
		return msg.Turn, nil
	default:
		return 0, fmt.Errorf("convo: role %q cannot be sent", role)
	}
}

func (m *Manager) sendUser(ctx context.Context, contextID uint, content string) (int, error) {
	st := m.state(contextID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Append and queue under the same lock, so the response loop's view of
	// the log never includes a user message that is missing from pending.
	msg, err := store.AppendMessage(m.db, contextID, models.RoleUser, content)
	if err != nil {
		return 0, err
	}
	if err := store.AdjustQueueDepth(m.db, contextID, 1); err != nil {
		return 0, err
	}

	st.pending = append(st.pending, content)
	if !st.running {
		st.running = true
		// Flip the flag before releasing the lock so no second loop can
		// start on the same context.
		if err := store.SetProcessing(m.db, contextID, true); err != nil {
			st.running = false
			st.pending = st.pending[:len(st.pending)-1]
			return 0, err
		}
		go m.respond(contextID, st)
	}

	return msg.Turn, nil
}

// Intervene appends an intervention message and forwards it to the in-flight
// exchange, if any. Accepted regardless of processing state; never toggles
// it. With no live exchange the message is simply history for the next turn.
func (m *Manager) Intervene(ctx context.Context, contextID uint, content string) (int, error) {
	st := m.state(contextID)
	st.mu.Lock()
	defer st.mu.Unlock()

	msg, err := store.AppendMessage(m.db, contextID, models.RoleIntervention, content)
	if err != nil {
		return 0, err
	}
	if st.exch != nil {
		st.exch.Interject(content)
	}

	return msg.Turn, nil
}

// respond is the response loop: one per context at a time. It opens an
// exchange seeded with history, drains pending inputs, and clears the
// processing flag on the way out.
func (m *Manager) respond(contextID uint, st *contextState) {
	st.mu.Lock()
	full, err := store.GetWithMessages(m.db, contextID)
	queued := len(st.pending)
	st.mu.Unlock()
	if err != nil {
		m.fail(contextID, st, fmt.Sprintf("responder setup failed: %v", err))
		return
	}

	// The tail of the log is the queued user input this loop is about to
	// replay through Ask. Seeding it too would put every input in the
	// prompt twice.
	history := trimQueued(full.Messages, queued)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exch, err := m.responder.Open(runCtx, history)
	if err != nil {
		m.fail(contextID, st, fmt.Sprintf("responder unavailable: %v", err))
		return
	}
	defer exch.Close()

	st.mu.Lock()
	st.exch = exch
	st.mu.Unlock()

	for {
		st.mu.Lock()
		if len(st.pending) == 0 {
			st.running = false
			st.exch = nil
			if err := store.SetProcessing(m.db, contextID, false); err != nil {
				log.Printf("convo: context %d: clear processing: %v", contextID, err)
			}
			st.mu.Unlock()
			return
		}
		input := st.pending[0]
		st.pending = st.pending[1:]
		st.mu.Unlock()

		reply, err := m.ask(runCtx, exch, input)
		if err != nil {
			m.fail(contextID, st, fmt.Sprintf("responder failed: %v", err))
			return
		}

		if _, err := store.AppendMessage(m.db, contextID, models.RoleAssistant, reply); err != nil {
			log.Printf("convo: context %d: append reply: %v", contextID, err)
		}
		if err := store.AdjustQueueDepth(m.db, contextID, -1); err != nil {
			log.Printf("convo: context %d: dequeue: %v", contextID, err)
		}
	}
}

// trimQueued strips the last queued user messages from a log snapshot.
// Interventions and system messages between them stay: they are history the
// exchange should see, not inputs it will be asked.
func trimQueued(msgs []models.Message, queued int) []models.Message {
	if queued == 0 {
		return msgs
	}
	skip := make(map[int]bool, queued)
	for i := len(msgs) - 1; i >= 0 && queued > 0; i-- {
		if msgs[i].Role == models.RoleUser {
			skip[i] = true
			queued--
		}
	}
	out := make([]models.Message, 0, len(msgs)-len(skip))
	for i, m := range msgs {
		if !skip[i] {
			out = append(out, m)
		}
	}
	return out
}

// ask calls the exchange under the configured timeout, converting a panic in
// the collaborator into an error.
func (m *Manager) ask(ctx context.Context, exch Exchange, input string) (reply string, err error) {
	askCtx, cancel := context.WithTimeout(ctx, m.askTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return exch.Ask(askCtx, input)
}

// fail records a collaborator failure as a system message and clears the
// processing flag in the same transaction, dropping any queued input. The
// context stays usable.
func (m *Manager) fail(contextID uint, st *contextState, detail string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := len(st.pending)
	st.pending = nil
	st.running = false
	st.exch = nil

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if _, err := store.AppendMessage(tx, contextID, models.RoleSystem, detail); err != nil {
			return err
		}
		if err := store.SetProcessing(tx, contextID, false); err != nil {
			return err
		}
		// The failed input plus everything still queued never got a reply.
		return store.AdjustQueueDepth(tx, contextID, -(dropped + 1))
	})
	if err != nil {
		log.Printf("convo: context %d: record failure: %v", contextID, err)
	}
	log.Printf("convo: context %d: %s (%d queued inputs dropped)", contextID, detail, dropped)
}

// IsBusy reports whether a response loop is currently running for the
// context. Test and introspection hook.
func (m *Manager) IsBusy(contextID uint) bool {
	st := m.state(contextID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.running
}
