package backendtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// TestAPIKey is the API key the test server accepts.
const TestAPIKey = "test-api-key"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewServer serves the backend HTTP API over a Fake, with the real route
// shapes including the exec and PTY websockets, so the backend client is
// testable end to end. The caller must Close the returned server.
func NewServer(f *Fake) *httptest.Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &server{fake: f}

	api := e.Group("/api", requireAPIKey)
	api.POST("/images", s.buildImage)
	api.POST("/images/:handle/await", s.awaitImage)
	api.GET("/images/:handle", s.getImage)
	api.POST("/sandboxes", s.createSandbox)
	api.DELETE("/sandboxes/:id", s.terminateSandbox)
	api.GET("/sandboxes/:id/exec", s.execWebSocket)
	api.POST("/sandboxes/:id/files/mkdir", s.makeDir)
	api.GET("/sandboxes/:id/files", s.readFile)
	api.PUT("/sandboxes/:id/files", s.writeFile)
	api.GET("/sandboxes/:id/pty", s.ptyWebSocket)

	return httptest.NewServer(e)
}

type server struct {
	fake *Fake
}

func requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("X-API-Key") != TestAPIKey {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		}
		return next(c)
	}
}

// jsonError maps fake errors onto the API's status codes: not-found
// sentinels become 404s, APIErrors keep their status.
func jsonError(c echo.Context, err error) error {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrImageNotFound), errors.Is(err, backend.ErrSandboxNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &apiErr):
		return c.JSON(apiErr.Status, map[string]string{"error": apiErr.Message})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *server) buildImage(c echo.Context) error {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "expected multipart body: " + err.Error()})
	}

	var req backend.BuildRequest
	var layerIdx int
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		switch name := part.FormName(); name {
		case "spec":
			if err := json.NewDecoder(part).Decode(&req.Spec); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid spec: " + err.Error()})
			}
		case "context":
			data, err := io.ReadAll(part)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			req.Context = bytes.NewReader(data)
		default:
			data, err := io.ReadAll(part)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			remotePath := ""
			if layerIdx < len(req.Spec.Layers) {
				remotePath = req.Spec.Layers[layerIdx].RemotePath
			}
			req.Layers = append(req.Layers, backend.LayerUpload{
				RemotePath: remotePath,
				Content:    bytes.NewReader(data),
			})
			layerIdx++
		}
	}

	handle, err := s.fake.BuildImage(c.Request().Context(), req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, types.BuildResponse{Handle: handle})
}

func (s *server) awaitImage(c echo.Context) error {
	if err := s.fake.AwaitImage(c.Request().Context(), c.Param("handle")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *server) getImage(c echo.Context) error {
	img, err := s.fake.ResolveImage(c.Request().Context(), c.Param("handle"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, img)
}

func (s *server) createSandbox(c echo.Context) error {
	var cfg types.SandboxConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}
	sb, err := s.fake.CreateSandbox(c.Request().Context(), cfg)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, sb)
}

func (s *server) terminateSandbox(c echo.Context) error {
	if err := s.fake.TerminateSandbox(c.Request().Context(), c.Param("id")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) makeDir(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}
	parents, _ := strconv.ParseBool(c.QueryParam("parents"))
	if err := s.fake.Mkdir(c.Request().Context(), c.Param("id"), path, parents); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) readFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}
	rc, err := s.fake.ReadFile(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return jsonError(c, err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}

func (s *server) writeFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}
	if err := s.fake.WriteFile(c.Request().Context(), c.Param("id"), path, c.Request().Body); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// execWebSocket bridges the exec protocol: one ProcessConfig in, then
// stdout/stderr frames out until the exit frame.
func (s *server) execWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	var cfg types.ProcessConfig
	if err := ws.ReadJSON(&cfg); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	proc, err := s.fake.Exec(ctx, c.Param("id"), cfg)
	if err != nil {
		_ = writeFrame(ws, nil, types.ExecFrame{Type: types.FrameError, Message: err.Error()})
		return nil
	}
	defer proc.Close()

	var writeMu sync.Mutex
	done := make(chan struct{}, 2)
	pump := func(frameType string, r io.Reader) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				frame := types.ExecFrame{Type: frameType, Data: append([]byte(nil), buf[:n]...)}
				if writeFrame(ws, &writeMu, frame) != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
	go pump(types.FrameStdout, proc.Stdout())
	go pump(types.FrameStderr, proc.Stderr())
	<-done
	<-done

	exitCode, err := proc.Wait(ctx)
	if err != nil {
		_ = writeFrame(ws, &writeMu, types.ExecFrame{Type: types.FrameError, Message: err.Error()})
		return nil
	}
	_ = writeFrame(ws, &writeMu, types.ExecFrame{Type: types.FrameExit, ExitCode: exitCode})
	return nil
}

func writeFrame(ws *websocket.Conn, mu *sync.Mutex, frame types.ExecFrame) error {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	return ws.WriteJSON(frame)
}

// ptyWebSocket bridges terminal data as binary frames; text frames carry
// resize requests.
func (s *server) ptyWebSocket(c echo.Context) error {
	cols, _ := strconv.Atoi(c.QueryParam("cols"))
	rows, _ := strconv.Atoi(c.QueryParam("rows"))

	stream, err := s.fake.PTY(c.Request().Context(), c.Param("id"), cols, rows)
	if err != nil {
		return jsonError(c, err)
	}
	defer stream.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if writeErr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage {
			var resize struct {
				Cols int `json:"cols"`
				Rows int `json:"rows"`
			}
			if json.Unmarshal(msg, &resize) == nil {
				_ = stream.Resize(resize.Cols, resize.Rows)
			}
			continue
		}
		if _, err := stream.Write(msg); err != nil {
			break
		}
	}

	stream.Close()
	<-done
	return nil
}
