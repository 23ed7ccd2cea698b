package sdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/logger"
)

// maxLineSize bounds one protocol line. Payloads ride base64-encoded
// inside the line.
const maxLineSize = 16 << 20

// Config wires a module's serve loop. Input and Output default to the
// process's stdin and stdout; the logger defaults to structured logging on
// stderr, which is the only stream left for it.
type Config struct {
	// Module is the module's announced name.
	Module string
	// Entries maps entry type names to their factories.
	Entries map[string]contract.EntryFactory
	// Input is the request stream.
	Input io.Reader
	// Output is the response stream.
	Output io.Writer
	// Logger receives the module's own diagnostics.
	Logger *logger.Logger
}

// Serve runs the module protocol over stdin and stdout until a shutdown
// request or input EOF. It is the main-function body of a subprocess
// plugin:
//
//	func main() {
//		if err := sdk.Serve("billing", map[string]contract.EntryFactory{
//			"BillingEntry": NewBillingEntry,
//		}); err != nil {
//			os.Exit(1)
//		}
//	}
func Serve(module string, entries map[string]contract.EntryFactory) error {
	return Run(Config{Module: module, Entries: entries})
}

// Run is Serve with explicit wiring, for embedding and tests.
func Run(cfg Config) error {
	if cfg.Module == "" {
		return errors.MissingArgument("module")
	}
	in := cfg.Input
	if in == nil {
		in = os.Stdin
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New(&logger.Config{Format: "json", Output: "stderr"})
	}

	s := &server{
		module:  cfg.Module,
		entries: cfg.Entries,
		enc:     json.NewEncoder(out),
		log:     log.WithComponent("sdk"),
		objects: make(map[string]any),
	}

	if err := s.hello(); err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var req loader.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("dropping undecodable request line", logger.Fields(
				logger.FieldError, err.Error(),
			))
			continue
		}
		if req.Op == loader.OpShutdown {
			s.reply(loader.Response{ID: req.ID, OK: true})
			return nil
		}
		go s.handle(req)
	}
	return sc.Err()
}

type server struct {
	module  string
	entries map[string]contract.EntryFactory
	log     *logger.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	seq     uint64
	objects map[string]any
}

func (s *server) hello() error {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(loader.Hello{
		Module:   s.module,
		Protocol: loader.ProtocolVersion,
		Entries:  names,
	})
}

func (s *server) reply(resp loader.Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(resp); err != nil {
		s.log.Error("writing response failed", logger.Fields(
			logger.FieldError, err.Error(),
		))
	}
}

func (s *server) ok(id uint64, mutate func(*loader.Response)) {
	resp := loader.Response{ID: id, OK: true}
	if mutate != nil {
		mutate(&resp)
	}
	s.reply(resp)
}

func (s *server) fail(id uint64, err error) {
	s.reply(loader.Response{
		ID:    id,
		OK:    false,
		Error: err.Error(),
		Code:  string(errors.CodeOf(err)),
	})
}

// handle dispatches one request. Each request runs in its own goroutine so
// a slow invoke does not stall the stream; responses serialize on the
// write path.
func (s *server) handle(req loader.Request) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(req.ID, errors.Internal(fmt.Errorf("module panic: %v", r)))
		}
	}()

	ctx := context.Background()
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(req.Deadline))
		defer cancel()
	}

	switch req.Op {
	case loader.OpNew:
		s.handleNew(req)
	case loader.OpProviders:
		s.handleProviders(req)
	case loader.OpInvoke:
		s.handleInvoke(ctx, req)
	case loader.OpQuiesce:
		s.handleQuiesce(ctx, req)
	case loader.OpStateExport:
		s.handleStateExport(ctx, req)
	case loader.OpStateImport:
		s.handleStateImport(ctx, req)
	default:
		s.fail(req.ID, errors.InvalidArgument("op", "unknown operation "+req.Op))
	}
}

func (s *server) handleNew(req loader.Request) {
	factory, ok := s.entries[req.Type]
	if !ok {
		s.fail(req.ID, errors.NotFound("entry type", req.Type))
		return
	}
	entry, err := factory(req.Args)
	if err != nil {
		s.fail(req.ID, err)
		return
	}
	id := s.store(entry)
	s.ok(req.ID, func(r *loader.Response) { r.Instance = id })
}

func (s *server) handleProviders(req loader.Request) {
	obj, ok := s.lookup(req.Instance)
	if !ok {
		s.fail(req.ID, errors.NotFound("instance", req.Instance))
		return
	}
	entry, ok := obj.(contract.EntryPoint)
	if !ok {
		s.fail(req.ID, errors.InvalidArgument("instance", "not an entry point"))
		return
	}

	specs := entry.Providers()
	wire := make([]loader.WireProvider, 0, len(specs))
	for _, spec := range specs {
		svc, ok := spec.Provider.(contract.Service)
		if !ok {
			s.fail(req.ID, errors.New(errors.ErrCodeCompatibility,
				fmt.Sprintf("provider %q does not implement contract.Service and cannot cross the process boundary",
					spec.Capabilities.ProviderID())))
			return
		}
		id := s.store(svc)
		wire = append(wire, loader.WireProvider{
			Instance:     id,
			Contract:     spec.Contract.String(),
			Capabilities: loader.FlattenCapabilities(spec.Capabilities),
			Capable:      capabilitiesOf(spec.Provider),
		})
	}
	s.ok(req.ID, func(r *loader.Response) { r.Providers = wire })
}

func capabilitiesOf(provider any) []string {
	var caps []string
	if _, ok := provider.(contract.Quiescer); ok {
		caps = append(caps, loader.CapQuiesce)
	}
	if _, ok := provider.(contract.StateExporter); ok {
		caps = append(caps, loader.CapStateExport)
	}
	if _, ok := provider.(contract.StateImporter); ok {
		caps = append(caps, loader.CapStateImport)
	}
	return caps
}

func (s *server) handleInvoke(ctx context.Context, req loader.Request) {
	obj, ok := s.lookup(req.Instance)
	if !ok {
		s.fail(req.ID, errors.NotFound("instance", req.Instance))
		return
	}
	svc, ok := obj.(contract.Service)
	if !ok {
		s.fail(req.ID, errors.InvalidArgument("instance", "not invokable"))
		return
	}
	result, err := svc.Invoke(ctx, req.Method, req.Payload)
	if err != nil {
		s.fail(req.ID, err)
		return
	}
	s.ok(req.ID, func(r *loader.Response) { r.Payload = result })
}

func (s *server) handleQuiesce(ctx context.Context, req loader.Request) {
	obj, ok := s.lookup(req.Instance)
	if !ok {
		s.fail(req.ID, errors.NotFound("instance", req.Instance))
		return
	}
	q, ok := obj.(contract.Quiescer)
	if !ok {
		// Nothing to drain.
		s.ok(req.ID, nil)
		return
	}
	if err := q.Quiesce(ctx); err != nil {
		s.fail(req.ID, err)
		return
	}
	s.ok(req.ID, nil)
}

func (s *server) handleStateExport(ctx context.Context, req loader.Request) {
	obj, ok := s.lookup(req.Instance)
	if !ok {
		s.fail(req.ID, errors.NotFound("instance", req.Instance))
		return
	}
	exporter, ok := obj.(contract.StateExporter)
	if !ok {
		s.fail(req.ID, errors.NotFound("state exporter", req.Instance))
		return
	}
	payload, err := exporter.ExportState(ctx)
	if err != nil {
		s.fail(req.ID, err)
		return
	}
	s.ok(req.ID, func(r *loader.Response) {
		r.Payload = payload.Data
		r.StateVersion = payload.Version
	})
}

func (s *server) handleStateImport(ctx context.Context, req loader.Request) {
	obj, ok := s.lookup(req.Instance)
	if !ok {
		s.fail(req.ID, errors.NotFound("instance", req.Instance))
		return
	}
	importer, ok := obj.(contract.StateImporter)
	if !ok {
		s.fail(req.ID, errors.NotFound("state importer", req.Instance))
		return
	}
	if err := importer.ImportState(ctx, contract.StatePayload{
		Version: req.StateVersion,
		Data:    req.Payload,
	}); err != nil {
		s.fail(req.ID, err)
		return
	}
	s.ok(req.ID, nil)
}

func (s *server) store(obj any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("i%d", s.seq)
	s.objects[id] = obj
	return id
}

func (s *server) lookup(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	return obj, ok
}
