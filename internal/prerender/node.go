package prerender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/registry"
)

// Environment variables set for the entry process.
const (
	EnvPrerender = "PAGES_PRERENDER"
	EnvMode      = "PAGES_MODE"
)

// DefaultTimeout bounds one enumeration.
const DefaultTimeout = 2 * time.Minute

// NodeEnumerator runs the compiled server entry with Node.js. The process
// reads {"config", "mode"} on stdin and prints a JSON array of pages.
type NodeEnumerator struct {
	// Command is the executable, "node" when empty.
	Command string

	// Args are passed before the entry path.
	Args []string

	// Env is appended to the process environment.
	Env []string

	// Stderr receives the process's stderr as it runs. Nil discards it;
	// the tail is still included in errors.
	Stderr io.Writer

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

type enumerateRequest struct {
	Config *config.SiteConfig `json:"config"`
	Mode   config.Mode        `json:"mode"`
}

// Enumerate runs the entry and parses its output. Empty output returns
// ErrNoExports.
func (n *NodeEnumerator) Enumerate(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) ([]Page, error) {
	command := n.Command
	if command == "" {
		command = "node"
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(enumerateRequest{Config: cfg, Mode: mode})
	if err != nil {
		return nil, errors.New("E120").Wrap(err)
	}

	args := append(append([]string{}, n.Args...), entry.Path)
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cfg.Dir()
	cmd.Env = append(os.Environ(), EnvPrerender+"=1", EnvMode+"="+string(mode))
	cmd.Env = append(cmd.Env, n.Env...)
	cmd.Stdin = bytes.NewReader(input)
	configureCommand(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if n.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, n.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		pe := errors.New("E120").
			WithDetail(fmt.Sprintf("%s %s exited: %v", command, entry.Path, err)).
			Wrap(err)
		if out := tail(stderr.String(), 20); out != "" {
			pe.WithContext(strings.Split(out, "\n"))
		}
		if ctx.Err() == context.DeadlineExceeded {
			pe.WithSuggestion("The page function did not finish within " + timeout.String())
		}
		return nil, pe
	}

	return ParsePages(stdout.Bytes())
}

type pageObject struct {
	Path     *string `json:"path"`
	Content  string  `json:"content"`
	Encoding string  `json:"encoding,omitempty"`
}

// ParsePages decodes enumerator output: a JSON array whose items are either
// [path, content] tuples or {"path", "content", "encoding"} objects.
// Content with encoding "base64" is decoded. Empty output returns
// ErrNoExports; anything else that does not parse returns E122.
func ParsePages(data []byte) ([]Page, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoExports
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, invalidPages("output is not a JSON array").Wrap(err)
	}

	pages := make([]Page, 0, len(items))
	for i, raw := range items {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			return nil, invalidPages(fmt.Sprintf("item %d is empty", i))
		}
		switch raw[0] {
		case '[':
			var tuple []string
			if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) != 2 {
				return nil, invalidPages(fmt.Sprintf("item %d must be a [path, content] pair of strings", i))
			}
			pages = append(pages, Page{Path: tuple[0], Content: []byte(tuple[1])})
		case '{':
			var obj pageObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, invalidPages(fmt.Sprintf("item %d is not a page object", i)).Wrap(err)
			}
			if obj.Path == nil {
				return nil, invalidPages(fmt.Sprintf("item %d has no path", i))
			}
			content, err := decodeContent(obj.Content, obj.Encoding)
			if err != nil {
				return nil, invalidPages(fmt.Sprintf("item %d: %v", i, err))
			}
			pages = append(pages, Page{Path: *obj.Path, Content: content})
		default:
			return nil, invalidPages(fmt.Sprintf("item %d must be an array or an object", i))
		}
	}
	return pages, nil
}

func decodeContent(s, encoding string) ([]byte, error) {
	switch encoding {
	case "", "utf8", "utf-8":
		return []byte(s), nil
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func invalidPages(detail string) *errors.PagesError {
	return errors.New("E122").WithDetail(detail)
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
