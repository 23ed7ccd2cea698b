package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/process"
)

// shutdownWait bounds the polite shutdown request sent before signals.
const shutdownWait = 2 * time.Second

// ProcessConfig configures a ProcessLoader.
type ProcessConfig struct {
	// Args are appended to the module invocation.
	Args []string
	// Env is additional environment (key=value) for the module process.
	Env []string
	// Dir is the module process's working directory.
	Dir string
	// Grace is how long Release waits between SIGTERM and SIGKILL.
	// Defaults to 5 seconds if zero.
	Grace time.Duration
	// HandshakeTimeout bounds the wait for the module's hello line.
	// Defaults to 10 seconds if zero.
	HandshakeTimeout time.Duration
}

// ApplyDefaults fills zero values with defaults.
func (c *ProcessConfig) ApplyDefaults() {
	if c.Grace == 0 {
		c.Grace = 5 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// ProcessLoader runs a plugin module as a child process and speaks
// line-delimited JSON with it over the child's stdin and stdout. Entry
// instances are proxies: the entry implements contract.EntryPoint, its
// providers implement contract.Service, and only marshalable calls cross
// the boundary.
//
// Releasing the loader ends the child process, so the plugin's code is
// genuinely reclaimed. Reclamation is asynchronous: the OS reaps the
// child, and Alive turns false once it has.
type ProcessLoader struct {
	ns     *contract.Namespace
	config ProcessConfig
	log    *logger.Logger

	mu       sync.RWMutex
	primary  *Module
	modules  map[string]*Module
	entries  map[string]Type
	session  *process.Session
	released bool

	writeMu sync.Mutex
	enc     *json.Encoder

	requestID atomic.Uint64
	pendMu    sync.Mutex
	pending   map[uint64]chan Response
}

// NewProcessLoader creates a loader that runs modules as child processes.
// A nil namespace gets a fresh one; a nil logger defaults to the no-op
// logger.
func NewProcessLoader(ns *contract.Namespace, config ProcessConfig, log *logger.Logger) *ProcessLoader {
	if ns == nil {
		ns = contract.NewNamespace()
	}
	if log == nil {
		log = logger.Nop()
	}
	config.ApplyDefaults()
	return &ProcessLoader{
		ns:      ns,
		config:  config,
		log:     log.WithComponent("loader.process"),
		modules: make(map[string]*Module),
		entries: make(map[string]Type),
		pending: make(map[uint64]chan Response),
	}
}

// Load starts the module process on first call and performs the hello
// handshake. Further paths ride along inside the running process and are
// recorded as modules without spawning again.
func (l *ProcessLoader) Load(ctx context.Context, path string) (*Module, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.MissingArgument("path")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, errors.InvalidState("loader", "released", "load")
	}
	if m, ok := l.modules[path]; ok {
		return m, nil
	}

	if l.session != nil {
		m := &Module{Name: moduleName(path), Path: path}
		l.modules[path] = m
		return m, nil
	}

	hello, err := l.spawnLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	m := &Module{Name: hello.Module, Path: path}
	if m.Name == "" {
		m.Name = moduleName(path)
	}
	l.primary = m
	l.modules[path] = m
	for _, name := range hello.Entries {
		l.entries[name] = Type{Name: name, Module: m}
	}
	l.log.Info("module process started", logger.Fields(
		logger.FieldModule, m.Name,
		"pid", l.session.Pid(),
		"entries", len(hello.Entries),
	))
	return m, nil
}

// spawnLocked starts the child, reads the hello line, and wires the reader
// goroutines. Caller holds mu.
func (l *ProcessLoader) spawnLocked(ctx context.Context, path string) (*Hello, error) {
	session, err := process.Start(process.Command{
		Binary:      path,
		Args:        l.config.Args,
		Dir:         l.config.Dir,
		Env:         l.config.Env,
		GracePeriod: l.config.Grace,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	reader := bufio.NewReader(session.Stdout())
	hello, err := readHello(ctx, reader, l.config.HandshakeTimeout)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.Grace)
		_ = session.Stop(stopCtx)
		cancel()
		return nil, err
	}
	if hello.Protocol != ProtocolVersion {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.Grace)
		_ = session.Stop(stopCtx)
		cancel()
		return nil, errors.Incompatible(
			fmt.Sprintf("protocol %d", hello.Protocol),
			fmt.Sprintf("protocol %d", ProtocolVersion),
		)
	}

	l.session = session
	l.enc = json.NewEncoder(session.Stdin())
	go l.readLoop(reader)
	go l.drainStderr(session.Stderr())
	return hello, nil
}

// readHello reads the module's first stdout line within the handshake
// window.
func readHello(ctx context.Context, r *bufio.Reader, timeout time.Duration) (*Hello, error) {
	type result struct {
		hello *Hello
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			ch <- result{err: fmt.Errorf("module exited before hello: %w", err)}
			return
		}
		var hello Hello
		if err := json.Unmarshal(line, &hello); err != nil {
			ch <- result{err: fmt.Errorf("decoding hello: %w", err)}
			return
		}
		ch <- result{hello: &hello}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.Canceled("module handshake")
	case <-timer.C:
		return nil, errors.Timeout("module handshake")
	case res := <-ch:
		if res.err != nil {
			return nil, errors.Internal(res.err)
		}
		return res.hello, nil
	}
}

// readLoop routes response lines to their waiting callers. It runs until
// the child's stdout closes, then fails whatever is still pending.
func (l *ProcessLoader) readLoop(r *bufio.Reader) {
	defer l.failPending()
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var resp Response
			if jerr := json.Unmarshal(line, &resp); jerr != nil {
				l.log.Warn("dropping undecodable module line", logger.Fields(
					logger.FieldError, jerr.Error(),
				))
			} else {
				l.dispatch(resp)
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *ProcessLoader) dispatch(resp Response) {
	l.pendMu.Lock()
	ch, ok := l.pending[resp.ID]
	if ok {
		delete(l.pending, resp.ID)
	}
	l.pendMu.Unlock()
	if !ok {
		l.log.Debug("dropping response for unknown request", logger.Fields("id", resp.ID))
		return
	}
	ch <- resp
}

func (l *ProcessLoader) failPending() {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	for id, ch := range l.pending {
		delete(l.pending, id)
		ch <- Response{ID: id, OK: false, Error: "module process exited", Code: string(errors.ErrCodeUnavailable)}
	}
}

func (l *ProcessLoader) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		l.log.Debug("module stderr", logger.Fields("line", line))
	}
}

// call sends a request and waits for its response or the context's end.
func (l *ProcessLoader) call(ctx context.Context, req Request) (Response, error) {
	l.mu.RLock()
	released, session := l.released, l.session
	l.mu.RUnlock()
	if released {
		return Response{}, errors.InvalidState("loader", "released", req.Op)
	}
	if session == nil {
		return Response{}, errors.InvalidState("loader", "unloaded", req.Op)
	}
	return l.send(ctx, req)
}

func (l *ProcessLoader) send(ctx context.Context, req Request) (Response, error) {
	req.ID = l.requestID.Add(1)
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline.UnixMilli()
	}

	ch := make(chan Response, 1)
	l.pendMu.Lock()
	l.pending[req.ID] = ch
	l.pendMu.Unlock()

	l.writeMu.Lock()
	err := l.enc.Encode(req)
	l.writeMu.Unlock()
	if err != nil {
		l.pendMu.Lock()
		delete(l.pending, req.ID)
		l.pendMu.Unlock()
		return Response{}, errors.Unavailable("module process").WithCause(err)
	}

	select {
	case <-ctx.Done():
		l.pendMu.Lock()
		delete(l.pending, req.ID)
		l.pendMu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return Response{}, errors.Timeout(req.Op)
		}
		return Response{}, errors.Canceled(req.Op)
	case resp := <-ch:
		if !resp.OK {
			return Response{}, wireError(resp)
		}
		return resp, nil
	}
}

// wireError rebuilds a typed error from a failed response.
func wireError(resp Response) error {
	msg := resp.Error
	if msg == "" {
		msg = "module reported failure"
	}
	code := errors.ErrorCode(resp.Code)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	return errors.New(code, msg)
}

// ModuleFor returns the module that announced a type.
func (l *ProcessLoader) ModuleFor(typeName string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.entries[typeName]
	if !ok {
		return nil, false
	}
	return t.Module, true
}

// ResolveType resolves an entry type announced in the module's hello.
func (l *ProcessLoader) ResolveType(name string) (Type, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.entries[name]
	return t, ok
}

// NewInstance creates an entry instance in the module process and returns
// its local proxy. The provider list is fetched eagerly so that the
// proxy's Providers method involves no further I/O; contract names the
// module announces must resolve through the shared namespace.
func (l *ProcessLoader) NewInstance(ctx context.Context, t Type, args map[string]any) (any, error) {
	if t.Name == "" {
		return nil, errors.MissingArgument("type")
	}
	if _, ok := l.ResolveType(t.Name); !ok {
		return nil, errors.NotFound("entry type", t.Name)
	}

	resp, err := l.call(ctx, Request{Op: OpNew, Type: t.Name, Args: args})
	if err != nil {
		return nil, err
	}
	if resp.Instance == "" {
		return nil, errors.Internal(fmt.Errorf("module returned no instance id for %s", t.Name))
	}

	provResp, err := l.call(ctx, Request{Op: OpProviders, Instance: resp.Instance})
	if err != nil {
		return nil, err
	}
	specs := make([]contract.ProviderSpec, 0, len(provResp.Providers))
	for _, wp := range provResp.Providers {
		ct, ok := l.ns.Resolve(wp.Contract)
		if !ok {
			return nil, errors.TypeIdentity(wp.Contract)
		}
		caps, err := wp.Capabilities.Capabilities()
		if err != nil {
			return nil, err
		}
		specs = append(specs, contract.ProviderSpec{
			Contract:     ct,
			Provider:     newServiceProxy(l, wp),
			Capabilities: caps,
		})
	}
	return &entryProxy{loader: l, instance: resp.Instance, providers: specs}, nil
}

// Release asks the module to shut down, then escalates through the signal
// chain: stdin EOF, SIGTERM to the process group, SIGKILL after the grace
// period. Idempotent.
func (l *ProcessLoader) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	session := l.session
	l.mu.Unlock()
	if session == nil {
		return nil
	}

	if session.Alive() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
		_, _ = l.send(shutdownCtx, Request{Op: OpShutdown})
		cancel()
	}
	_ = session.Stdin().Close()

	if err := session.Stop(ctx); err != nil {
		return errors.Timeout("module release").WithCause(err)
	}
	l.log.Info("module process released", logger.Fields(logger.FieldModule, l.primaryName()))
	return nil
}

// Alive reports whether the module process is running.
func (l *ProcessLoader) Alive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.released && l.session != nil && l.session.Alive()
}

func (l *ProcessLoader) primaryName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.primary == nil {
		return ""
	}
	return l.primary.Name
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// entryProxy fronts an entry instance living in the module process.
type entryProxy struct {
	loader    *ProcessLoader
	instance  string
	providers []contract.ProviderSpec
}

func (p *entryProxy) Providers() []contract.ProviderSpec { return p.providers }

func (p *entryProxy) Quiesce(ctx context.Context) error {
	_, err := p.loader.call(ctx, Request{Op: OpQuiesce, Instance: p.instance})
	return err
}

// serviceProxy fronts one provider instance in the module process. It
// always satisfies the optional lifecycle interfaces; operations the
// remote provider did not announce resolve locally without touching the
// wire.
type serviceProxy struct {
	loader   *ProcessLoader
	instance string
	capable  map[string]bool
}

func newServiceProxy(l *ProcessLoader, wp WireProvider) *serviceProxy {
	capable := make(map[string]bool, len(wp.Capable))
	for _, c := range wp.Capable {
		capable[c] = true
	}
	return &serviceProxy{loader: l, instance: wp.Instance, capable: capable}
}

func (p *serviceProxy) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	resp, err := p.loader.call(ctx, Request{
		Op:       OpInvoke,
		Instance: p.instance,
		Method:   method,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (p *serviceProxy) Quiesce(ctx context.Context) error {
	if !p.capable[CapQuiesce] {
		return nil
	}
	_, err := p.loader.call(ctx, Request{Op: OpQuiesce, Instance: p.instance})
	return err
}

func (p *serviceProxy) ExportState(ctx context.Context) (contract.StatePayload, error) {
	if !p.capable[CapStateExport] {
		return contract.StatePayload{}, errors.NotFound("state exporter", p.instance)
	}
	resp, err := p.loader.call(ctx, Request{Op: OpStateExport, Instance: p.instance})
	if err != nil {
		return contract.StatePayload{}, err
	}
	return contract.StatePayload{Version: resp.StateVersion, Data: resp.Payload}, nil
}

func (p *serviceProxy) ImportState(ctx context.Context, payload contract.StatePayload) error {
	if !p.capable[CapStateImport] {
		return errors.NotFound("state importer", p.instance)
	}
	_, err := p.loader.call(ctx, Request{
		Op:           OpStateImport,
		Instance:     p.instance,
		Payload:      payload.Data,
		StateVersion: payload.Version,
	})
	return err
}
