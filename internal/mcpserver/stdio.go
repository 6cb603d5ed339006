package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// maxLineBytes bounds a single JSON-RPC line on stdin.
const maxLineBytes = 10 * 1024 * 1024

// StdioServer speaks line-delimited JSON-RPC on stdin/stdout. Protocol
// traffic owns stdout; logs and the readiness line go to stderr.
//
// Requests run concurrently; responses are serialized on a write mutex, so
// response order follows completion order, not arrival order. Clients
// correlate by id.
type StdioServer struct {
	dispatcher *Dispatcher
	scope      tenancy.Scope
	logger     *logging.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	writeMu  sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
}

// NewStdioServer creates a stdio transport bound to the process pipes.
// Every request runs under the given static scope.
func NewStdioServer(d *Dispatcher, scope tenancy.Scope, logger *logging.Logger) *StdioServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StdioServer{
		dispatcher: d,
		scope:      scope,
		logger:     logger,
		in:         os.Stdin,
		out:        os.Stdout,
		errOut:     os.Stderr,
		stop:       make(chan struct{}),
	}
}

// Shutdown asks the server to stop after in-flight requests drain. Safe to
// call more than once; wire it as the dispatcher's shutdown hook.
func (s *StdioServer) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run reads requests until stdin closes, the context is canceled, or
// Shutdown is called. It drains in-flight requests before returning.
func (s *StdioServer) Run(ctx context.Context) error {
	fmt.Fprintln(s.errOut, "MCP server ready (stdio mode)")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.stop:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if len(line) == 0 {
				continue
			}
			s.handleLine(ctx, line, &wg)
		}
	}

	wg.Wait()

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	default:
	}
	if ctx.Err() != nil && ctx.Err() != context.Canceled {
		return ctx.Err()
	}
	return nil
}

func (s *StdioServer) handleLine(ctx context.Context, line []byte, wg *sync.WaitGroup) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn(ctx, "dropping unparseable request", zap.Error(err))
		s.write(ctx, NewError(nil, ParseError, "request is not valid JSON"))
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		callCtx := tenancy.WithScope(ctx, s.scope)
		callCtx = WithGrants(callCtx, []string{AllGrants})
		if resp := s.dispatcher.Handle(callCtx, &req); resp != nil {
			s.write(ctx, resp)
		}
	}()
}

func (s *StdioServer) write(ctx context.Context, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error(ctx, "response serialization failed", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error(ctx, "stdout write failed", zap.Error(err))
	}
}
