package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	kit "castbot/internal/transport"
	"castbot/internal/runtime/supervisor"
	logx "castbot/pkg/logx"
)

// DefaultCommandTimeout bounds a handler when its Command sets no Timeout.
const DefaultCommandTimeout = 20 * time.Second

type Command struct {
	// Route is a space-separated command path, e.g. "b ac".
	Route       string
	Aliases     []string // extra tokens for the last route element, e.g. ["help"] for "b commands"
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply answers in the chat and topic the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.sender == nil {
		return nil
	}
	return r.sender.Send(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

// CommandManager turns owner messages into Command invocations. Every
// command is owner-only; messages from anyone else are answered with a
// refusal only when they name a known command.
type CommandManager struct {
	mu sync.RWMutex

	root   *cmdNode
	owners []int64

	log    logx.Logger
	sender kit.Sender

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:   newRoot(),
		owners: slices.Clone(owners),
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		jobs:   make(chan func(), 256),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := slices.Clone(m.owners)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	root := newRoot()
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias := append(slices.Clone(route[:len(route)-1]), a)
			if n := root.find(alias); n == nil || n.cmd == nil {
				root.add(alias, c)
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
}

// Commands returns the registered commands in route order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	return root.leaves()
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.setSupervisor(nil, false)
	}()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("command dispatcher stopped", logx.Err(ctx.Err()))
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, prefix, ok := splitPrefix(parts[0])
	if !ok {
		return
	}
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	m.mu.RUnlock()

	cur, ok := rootNode.child(word)
	if !ok {
		// "." is ordinary punctuation in chat, only "/" earns an answer.
		if prefix == '/' && isOwner(msg.FromID, m.ownersSnapshot()) {
			m.reply(root, msg, "unknown command. try /b commands")
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, args[0])
		args = args[1:]
	}

	if cur.cmd == nil {
		// container node: list what lives below it
		if isOwner(msg.FromID, m.ownersSnapshot()) {
			m.reply(root, msg, helpText(cur.leaves()))
		}
		return
	}
	m.enqueueCommand(root, msg, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(root context.Context, msg *kit.Message, cmd Command, path, args []string) {
	if !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.reply(root, msg, "unauthorized")
		return
	}

	rid := newReqID()
	chat := msg.Origin()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Path:    path,
		Command: cmd.Route,
		Args:    args,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("chat", chat.Ref),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
		sender: m.sender,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.reply(root, msg, "busy, try again")
	}
}

func (m *CommandManager) reply(ctx context.Context, msg *kit.Message, text string) {
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(ctx, msg.Origin(), text, &kit.SendOptions{DisablePreview: true}); err != nil {
		m.log.Debug("reply failed", logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	return slices.Contains(owners, id)
}
