package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/errors"
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/persistence"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/query"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
	"github.com/cxrefd/cxrefd/internal/watchsvc"
)

// openProject bundles one open project with the subsystems that operate on
// it, the quadruple spec.md §4 describes per project (indexer, dirty engine,
// query engine, watcher) plus the store and config it was opened with.
type openProject struct {
	cfg       *config.Config
	dataDir   string
	store     *store.Store
	proj      *project.Project
	scheduler *indexer.Scheduler
	dirty     *dirty.Engine
	query     *query.Engine
	watch     *watchsvc.Service
	cancel    context.CancelFunc
}

// Daemon is the local socket server from spec.md §6: it holds a registry of
// open projects and dispatches framed messages to their subsystems. Grounded
// on the teacher's IndexServer for socket lifecycle (stale-socket removal,
// Start/Shutdown/Wait, a listener goroutine plus a WaitGroup of in-flight
// connections) generalized from one implicit project to the registry
// spec.md's Project message implies.
type Daemon struct {
	socketPath string
	backend    parser.Backend

	mu       sync.RWMutex
	projects map[string]*openProject
	current  string

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// NewDaemon builds a Daemon listening at socketPath, using backend to parse
// every project it opens.
func NewDaemon(socketPath string, backend parser.Backend) *Daemon {
	return &Daemon{
		socketPath: socketPath,
		backend:    backend,
		projects:   make(map[string]*openProject),
		quit:       make(chan struct{}),
	}
}

// Start binds the daemon's socket and begins accepting connections. Following
// the teacher's Start(), a stale socket file left behind by a crashed
// instance is removed before binding; spec.md §7's bind-retry-via-Shutdown
// protocol runs in cmd/cxrefd around this call, not inside it, since only
// the caller knows whether retrying is appropriate.
func (d *Daemon) Start() error {
	if _, err := os.Stat(d.socketPath); err == nil {
		_ = os.Remove(d.socketPath)
	}
	l, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return errors.NewCommandError(errors.ErrorTypeSocketBind, fmt.Sprintf("bind %s: %v", d.socketPath, err))
	}
	if err := os.Chmod(d.socketPath, 0600); err != nil {
		l.Close()
		return errors.NewCommandError(errors.ErrorTypeSocketBind, fmt.Sprintf("chmod %s: %v", d.socketPath, err))
	}
	d.listener = l
	d.wg.Add(1)
	go d.acceptLoop()
	logging.Server("listening on %s", d.socketPath)
	return nil
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return
			default:
				logging.Errorf("SERVER", "accept: %v", err)
				return
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(conn)
		}()
	}
}

// handleConn reads exactly one framed message from conn, dispatches it, and
// writes its Response lines back before closing — every cxref invocation
// dials a fresh connection per message (mirroring Client.roundTrip), so a
// connection is a single request/response cycle rather than a session. A
// malformed or unknown message id ends the connection immediately without a
// response (spec.md §7: "Unknown message id -> drop connection, log at
// error level").
func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	id, payload, err := readFrame(conn)
	if err != nil {
		return
	}

	var lines []string
	var handleErr error
	switch id {
	case types.MessageCompile:
		lines, handleErr = d.handleCompile(payload)
	case types.MessageQuery:
		lines, handleErr = d.handleQuery(payload)
	case types.MessageProject:
		lines, handleErr = d.handleProject(payload)
	case types.MessageCreateOutput:
		lines, handleErr = d.handleCreateOutput(payload)
	default:
		logUnknownMessage(id)
		return
	}

	if handleErr != nil {
		lines = []string{"error: " + handleErr.Error()}
	}
	for _, line := range lines {
		if err := writeResponseLine(conn, line); err != nil {
			return
		}
	}
}

// Shutdown stops accepting connections, waits for in-flight ones to finish,
// closes every open project, and removes the socket file.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.quitOnce.Do(func() { close(d.quit) })
	if d.listener != nil {
		d.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	for root, p := range d.projects {
		d.closeProject(p)
		delete(d.projects, root)
	}
	d.mu.Unlock()

	_ = os.Remove(d.socketPath)
	return nil
}

// Wait blocks until the daemon's listener and all connections have exited.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

func (d *Daemon) closeProject(p *openProject) {
	if p.cancel != nil {
		p.cancel()
	}
	if err := persistence.Save(p.dataDir, p.proj); err != nil {
		logging.Errorf("SERVER", "save snapshot for %s: %v", p.cfg.Project.Root, err)
	}
	if err := p.watch.Stop(); err != nil {
		logging.Errorf("SERVER", "stop watcher for %s: %v", p.cfg.Project.Root, err)
	}
	p.scheduler.Shutdown()
	if err := p.store.Close(); err != nil {
		logging.Errorf("SERVER", "close store for %s: %v", p.cfg.Project.Root, err)
	}
}

// openProject opens (or returns the already-open) project rooted at root,
// wiring the scheduler/dirty/query/watch quadruple and restoring any prior
// snapshot (spec.md §4.9) before the watcher's initial scan runs.
func (d *Daemon) openProject(root string) (*openProject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.projects[root]; ok {
		return p, nil
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, fmt.Sprintf("load config for %s: %v", root, err))
	}
	cfg.Project.Root = root

	dataDir := filepath.Join(cfg.Index.DataDir, projectDirName(root))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeStoreCommit, fmt.Sprintf("create data dir for %s: %v", root, err))
	}

	st, err := store.Open(filepath.Join(dataDir, "index.db"))
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeStoreCommit, fmt.Sprintf("open store for %s: %v", root, err))
	}

	proj, err := project.Open(root, &cfg.Project, st)
	if err != nil {
		st.Close()
		return nil, errors.NewCommandError(errors.ErrorTypeParse, fmt.Sprintf("open project %s: %v", root, err))
	}

	sched := indexer.New(proj, d.backend, cfg.WorkerCount(), cfg.Options.NoBuiltinIncludes)

	engine := dirty.New(proj, sched)

	if restored, err := persistence.Restore(dataDir, proj); err != nil {
		logging.Errorf("SERVER", "restore snapshot for %s: %v", root, err)
	} else if restored {
		persistence.Reconcile(proj, engine)
	}

	watchSvc, err := watchsvc.NewService(cfg, proj, engine)
	if err != nil {
		st.Close()
		return nil, errors.NewCommandError(errors.ErrorTypeWatcherLoss, fmt.Sprintf("build watcher for %s: %v", root, err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	if err := watchSvc.Start(ctx); err != nil {
		cancel()
		st.Close()
		return nil, errors.NewCommandError(errors.ErrorTypeWatcherLoss, fmt.Sprintf("start watcher for %s: %v", root, err))
	}

	p := &openProject{
		cfg:       cfg,
		dataDir:   dataDir,
		store:     st,
		proj:      proj,
		scheduler: sched,
		dirty:     engine,
		query:     query.New(proj),
		watch:     watchSvc,
		cancel:    cancel,
	}
	d.projects[root] = p
	if d.current == "" {
		d.current = root
	}
	logging.Server("opened project %s", root)
	return p, nil
}

// OpenProject opens (or returns the already-open) project rooted at root and,
// if the daemon has no project selected yet, makes it current. Exported so
// cxrefd's startup can activate the project named by its own --root flag:
// without this, a freshly started daemon has d.current == "" and every
// Compile/Query against it fails with "no project selected" until some
// client happens to send an explicit Project select first.
func (d *Daemon) OpenProject(root string) error {
	_, err := d.openProject(root)
	return err
}

func (d *Daemon) deleteProject(root string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.projects[root]; ok {
		d.closeProject(p)
		delete(d.projects, root)
		if d.current == root {
			d.current = ""
		}
	}
}

func (d *Daemon) clearProjects() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for root, p := range d.projects {
		d.closeProject(p)
		delete(d.projects, root)
	}
	d.current = ""
}

// currentProject returns the daemon's selected project, failing with a
// CommandError when no project has been opened yet (spec.md §7: a Compile
// or Query message with no project selected is a client error, not a crash).
func (d *Daemon) currentProject() (*openProject, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == "" {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "no project selected")
	}
	p, ok := d.projects[d.current]
	if !ok {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "current project is not open")
	}
	return p, nil
}

// projectDirName derives a filesystem-safe per-project directory name from
// root, the same hashing idiom SocketPathForRoot uses, so two projects never
// collide on one store file under a shared Index.DataDir.
func projectDirName(root string) string {
	var hash uint32
	for _, c := range root {
		hash = hash*31 + uint32(c)
	}
	return fmt.Sprintf("project-%08x", hash)
}

// StartWithRetry implements spec.md §7's socket-bind-failure protocol: ask
// any already-running instance at socketPath to shut down, then retry the
// bind up to maxAttempts times before giving up.
func StartWithRetry(d *Daemon, socketPath string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := d.Start(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = NewClient(socketPath).Shutdown(ctx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("server: bind %s failed after %d attempts: %w", socketPath, maxAttempts, lastErr)
}
