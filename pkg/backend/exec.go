package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/offloadhq/offload/pkg/types"
)

// wsURL converts the client's HTTP base URL into the websocket URL for
// the given path.
func (c *Client) wsURL(path string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

func (c *Client) dialWS(ctx context.Context, path string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(path), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, apiError(resp, ErrSandboxNotFound)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

// Exec starts a command in a sandbox over the exec websocket. The client
// sends one ProcessConfig, then receives stdout/stderr frames until an
// exit or error frame closes the stream.
func (c *Client) Exec(ctx context.Context, sandboxID string, cfg types.ProcessConfig) (Process, error) {
	conn, err := c.dialWS(ctx, fmt.Sprintf("/api/sandboxes/%s/exec", sandboxID))
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send process config: %w", err)
	}

	p := &wsProcess{conn: conn, exitCh: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.readLoop()

	return p, nil
}

// wsProcess is a remote command bridged over a websocket. A single read
// loop dispatches frames into the stdout/stderr pipes and delivers the
// exit code.
type wsProcess struct {
	conn *websocket.Conn

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitCh chan int

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

func (p *wsProcess) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.fail(fmt.Errorf("exec stream closed: %w", err))
			return
		}

		var frame types.ExecFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.fail(fmt.Errorf("decode exec frame: %w", err))
			return
		}

		switch frame.Type {
		case types.FrameStdout:
			if _, err := p.stdoutW.Write(frame.Data); err != nil {
				p.fail(err)
				return
			}
		case types.FrameStderr:
			if _, err := p.stderrW.Write(frame.Data); err != nil {
				p.fail(err)
				return
			}
		case types.FrameExit:
			p.stdoutW.Close()
			p.stderrW.Close()
			p.exitCh <- frame.ExitCode
			return
		case types.FrameError:
			p.fail(fmt.Errorf("remote exec: %s", frame.Message))
			return
		}
	}
}

// fail tears down both pipes with err so readers unblock, and records it
// so Wait reports the same failure.
func (p *wsProcess) fail(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.stdoutW.CloseWithError(err)
	p.stderrW.CloseWithError(err)
	close(p.exitCh)
}

func (p *wsProcess) Stdout() io.Reader { return p.stdoutR }
func (p *wsProcess) Stderr() io.Reader { return p.stderrR }

// Wait blocks until the remote command exits and returns its exit code.
func (p *wsProcess) Wait(ctx context.Context) (int, error) {
	select {
	case code, ok := <-p.exitCh:
		if !ok {
			p.mu.Lock()
			err := p.readErr
			p.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("exec stream ended without exit code")
			}
			return -1, err
		}
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *wsProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		err = p.conn.Close()
	})
	return err
}
