package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
)

// LanguageClient is the outbound side of the bridge: one backing language
// server, already initialized, speaking the protocol over jsonrpc2.
type LanguageClient interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(ctx context.Context, method string, params any) error
	Close() error
}

// ServerNotificationHandler receives server-initiated notifications
// (publishDiagnostics, logMessage, ...) from a backing server.
type ServerNotificationHandler func(ctx context.Context, language, method string, params json.RawMessage)

// ClientPool lazily spawns one backing server per configured language and
// keeps it alive for the lifetime of the bridge.
type ClientPool struct {
	mu             sync.Mutex
	configs        map[string]LanguageServerSettings
	clients        map[string]LanguageClient
	onNotification ServerNotificationHandler
}

func NewClientPool(configs map[string]LanguageServerSettings, onNotification ServerNotificationHandler) *ClientPool {
	return &ClientPool{
		configs:        configs,
		clients:        make(map[string]LanguageClient),
		onNotification: onNotification,
	}
}

// Get returns the client for the given language, spawning and initializing
// the backing server on first use. The second return value reports whether
// this call created the client; the caller is responsible for replaying
// didOpen notifications for existing synthetic documents when it did.
func (p *ClientPool) Get(ctx context.Context, language string) (LanguageClient, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[language]; ok {
		return client, false, nil
	}
	cfg, ok := p.configs[language]
	if !ok {
		return nil, false, fmt.Errorf("no language server configured for %q", language)
	}
	client, err := p.spawnLocked(language, cfg)
	if err != nil {
		return nil, false, err
	}
	p.clients[language] = client
	return client, true, nil
}

// Running returns the client for the language only if it has already been
// spawned. Document sync events are not worth starting a server for; the
// didOpen replay on first Get covers that case.
func (p *ClientPool) Running(language string) (LanguageClient, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	client, ok := p.clients[language]
	return client, ok
}

func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for language, client := range p.clients {
		if err := client.Close(); err != nil {
			slog.With("language", language, "error", err).Warn("failed to stop language server")
		}
		delete(p.clients, language)
	}
}

func (p *ClientPool) spawnLocked(language string, cfg LanguageServerSettings) (*languageServer, error) {
	slog.With("language", language, "command", cfg.Command).Info("starting language server")
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", cfg.Command, err)
	}

	stream := jsonrpc2.NewHeaderStream(&stdioPipe{in: stdin, out: stdout})
	conn := jsonrpc2.NewConn(stream)
	client := &languageServer{language: language, cmd: cmd, conn: conn}
	conn.Go(context.Background(), p.serverTrafficHandler(language))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.initialize(ctx); err != nil {
		conn.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("initialize handshake with %q failed: %w", cfg.Command, err)
	}
	return client, nil
}

// serverTrafficHandler serves requests and notifications originating from
// the backing server. Notifications the bridge understands are forwarded to
// the notification handler; configuration requests get empty answers so
// servers that insist on them keep working; anything else is refused.
func (p *ClientPool) serverTrafficHandler(language string) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if _, isCall := req.(*jsonrpc2.Call); !isCall {
			if p.onNotification != nil {
				p.onNotification(ctx, language, req.Method(), req.Params())
			}
			return nil
		}
		switch req.Method() {
		case "workspace/configuration":
			var params struct {
				Items []json.RawMessage `json:"items"`
			}
			json.Unmarshal(req.Params(), &params)
			return reply(ctx, make([]any, len(params.Items)), nil)
		case "client/registerCapability", "client/unregisterCapability":
			return reply(ctx, nil, nil)
		case "window/workDoneProgress/create":
			return reply(ctx, nil, nil)
		default:
			return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
		}
	}
}

type languageServer struct {
	language string
	cmd      *exec.Cmd
	conn     jsonrpc2.Conn
}

func (c *languageServer) Call(ctx context.Context, method string, params, result any) error {
	_, err := c.conn.Call(ctx, method, params, result)
	return err
}

func (c *languageServer) Notify(ctx context.Context, method string, params any) error {
	return c.conn.Notify(ctx, method, params)
}

func (c *languageServer) initialize(ctx context.Context) error {
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   nil,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"publishDiagnostics": map[string]any{"relatedInformation": true},
				"completion": map[string]any{
					"completionItem": map[string]any{"snippetSupport": false},
				},
			},
		},
	}
	var result json.RawMessage
	if _, err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	return c.conn.Notify(ctx, "initialized", struct{}{})
}

func (c *languageServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var discard json.RawMessage
	c.conn.Call(ctx, "shutdown", nil, &discard)
	c.conn.Notify(ctx, "exit", nil)
	c.conn.Close()
	if c.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-ctx.Done():
			c.cmd.Process.Kill()
			<-done
		}
	}
	return nil
}

// stdioPipe adapts a child process's stdio to the net.Conn the jsonrpc2
// header stream expects. Deadlines are not supported; the pool closes the
// pipes to unblock readers instead.
type stdioPipe struct {
	in  io.WriteCloser
	out io.ReadCloser
}

var _ net.Conn = (*stdioPipe)(nil)

func (s *stdioPipe) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *stdioPipe) Write(p []byte) (int, error) { return s.in.Write(p) }

func (s *stdioPipe) Close() error {
	s.in.Close()
	return s.out.Close()
}

func (s *stdioPipe) LocalAddr() net.Addr              { return stdioAddr{} }
func (s *stdioPipe) RemoteAddr() net.Addr             { return stdioAddr{} }
func (s *stdioPipe) SetDeadline(time.Time) error      { return nil }
func (s *stdioPipe) SetReadDeadline(time.Time) error  { return nil }
func (s *stdioPipe) SetWriteDeadline(time.Time) error { return nil }

type stdioAddr struct{}

func (stdioAddr) Network() string { return "stdio" }
func (stdioAddr) String() string  { return "stdio" }
