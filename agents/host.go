package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

// MaxReadSize bounds read_file results.
const MaxReadSize = 1 << 20

func init() {
	Register(config.KindHost, func(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error) {
		return NewHost(cfg.Setting("root", ""), deps.Shutdown, deps.Logger)
	})
}

// Host exposes a directory of the host system. Every action is conditional:
// the hosting application's granter decides who may use it.
type Host struct {
	root     *os.Root
	shutdown func()
	logger   *slog.Logger
}

// NewHost opens dir as the root all paths are confined to. shutdown is
// called by the shutdown_host action and may be nil.
func NewHost(dir string, shutdown func(), logger *slog.Logger) (*Host, error) {
	if dir == "" {
		return nil, errors.New("host root directory is required")
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open host root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{root: root, shutdown: shutdown, logger: logger}, nil
}

// Close releases the root directory.
func (h *Host) Close() error {
	return h.root.Close()
}

// Actions implements agent.Behavior.
func (h *Host) Actions() []agent.Action {
	return []agent.Action{
		{
			Name:    "list_files",
			Help:    "List a directory. Args: path (optional, default the root).",
			Policy:  agent.Conditional,
			Handler: h.listFiles,
		},
		{
			Name:    "read_file",
			Help:    "Return a file's content. Args: path.",
			Policy:  agent.Conditional,
			Handler: h.readFile,
		},
		{
			Name:    "write_file",
			Help:    "Create or replace a file. Args: path, content.",
			Policy:  agent.Conditional,
			Handler: h.writeFile,
		},
		{
			Name:    "delete_file",
			Help:    "Delete a file. Args: path.",
			Policy:  agent.Conditional,
			Handler: h.deleteFile,
		},
		{
			Name:    "shutdown_host",
			Help:    "Stop the hosting application.",
			Policy:  agent.Conditional,
			Handler: h.shutdownHost,
		},
	}
}

// clean maps a requested path onto the root. Escapes are also refused by
// os.Root itself.
func clean(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return "."
	}
	return p[1:]
}

func (h *Host) listFiles(_ context.Context, req *agent.Request) (any, error) {
	dir := clean(req.OptionalString("path", "."))
	f, err := h.root.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (h *Host) readFile(_ context.Context, req *agent.Request) (any, error) {
	p, err := req.StringArg("path")
	if err != nil {
		return nil, err
	}
	f, err := h.root.Open(clean(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxReadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxReadSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", p, MaxReadSize)
	}
	return string(data), nil
}

func (h *Host) writeFile(_ context.Context, req *agent.Request) (any, error) {
	p, err := req.StringArg("path")
	if err != nil {
		return nil, err
	}
	content, err := req.StringArg("content")
	if err != nil {
		return nil, err
	}
	f, err := h.root.OpenFile(clean(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := io.WriteString(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	h.logger.Info("file written", "path", p, "bytes", n, "by", req.Sender())
	return map[string]any{"path": p, "bytes": n}, nil
}

func (h *Host) deleteFile(_ context.Context, req *agent.Request) (any, error) {
	p, err := req.StringArg("path")
	if err != nil {
		return nil, err
	}
	target := clean(p)
	info, err := h.root.Stat(target)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "delete", Path: p, Err: errors.New("is a directory")}
	}
	if err := h.root.Remove(target); err != nil {
		return nil, err
	}
	h.logger.Info("file deleted", "path", p, "by", req.Sender())
	return map[string]any{"path": p}, nil
}

func (h *Host) shutdownHost(_ context.Context, req *agent.Request) (any, error) {
	if h.shutdown == nil {
		return nil, errors.New("shutdown is not available on this host")
	}
	h.logger.Warn("shutdown requested", "by", req.Sender())
	h.shutdown()
	return "shutting down", nil
}
