// Package main provides a CI-friendly smoke test for the easel realtime path.
//
// It validates:
//   - register/login over HTTP with session cookies
//   - canvas creation and a permission grant
//   - websocket handshake with cookie auth
//   - registerForCanvas replay (moderation flag, history, own permission)
//   - event fanout to a second client
//   - toggleModerated notice and the moderated drawing gate
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	sessionCookieName = "easel_session"
	maxReadBytes      = 1 << 20 // 1MiB
)

type serverMsg struct {
	CanvasID       string            `json:"canvasId"`
	Moderated      *bool             `json:"moderated"`
	Events         []json.RawMessage `json:"eventsForCanvas"`
	YourPermission *string           `json:"yourPermission"`
	Notify         *string           `json:"notify"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan serverMsg
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the server")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	ownerEmail := fmt.Sprintf("smoke-owner-%d@example.com", suffix)
	guestEmail := fmt.Sprintf("smoke-guest-%d@example.com", suffix)
	password := fmt.Sprintf("Smoke-pass-%d!", suffix)

	owner := mustHTTPClient()
	guest := mustHTTPClient()

	mustRegister(owner, *baseURL, ownerEmail, password, *timeout)
	mustRegister(guest, *baseURL, guestEmail, password, *timeout)

	canvasID := mustCreateCanvas(owner, *baseURL, fmt.Sprintf("smoke-%d", suffix), *timeout)
	mustGrant(owner, *baseURL, canvasID, guestEmail, "W", *timeout)

	if *verbose {
		fmt.Printf("canvas=%s owner=%s guest=%s\n", canvasID, ownerEmail, guestEmail)
	}

	wsURL := wsEndpoint(*baseURL)

	a := mustConnect(root, "owner", wsURL, *origin, sessionCookie(owner, *baseURL), *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "guest", wsURL, *origin, sessionCookie(guest, *baseURL), *timeout)
	defer closeWS(b.conn)

	mustRegisterForCanvas(root, a, canvasID, "C", *timeout)
	mustRegisterForCanvas(root, b, canvasID, "W", *timeout)

	stroke := json.RawMessage(fmt.Sprintf(`{"kind":"stroke","points":[[1,2],[3,4]],"nonce":%d}`, suffix))
	mustSend(root, a, canvasID, []json.RawMessage{stroke}, *timeout)

	mustReceiveEvents(root, b, canvasID, stroke, *timeout)
	mustReceiveEvents(root, a, canvasID, stroke, *timeout)

	mustToggleModerated(root, a, canvasID, true, *timeout)
	mustModeratedNotice(root, b, canvasID, true, *timeout)

	// Writer events are dropped silently while moderated.
	mustSend(root, b, canvasID, []json.RawMessage{stroke}, *timeout)
	mustAssertNoEvents(root, a, 1200*time.Millisecond)
	mustAssertNoEvents(root, b, 1200*time.Millisecond)

	fmt.Printf("OK: canvas=%s owner=%s guest=%s\n", canvasID, ownerEmail, guestEmail)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsEndpoint(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
}

// ---- HTTP steps ----

func mustHTTPClient() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func postJSON(c *http.Client, rawURL string, body any, out any, timeout time.Duration) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func mustRegister(c *http.Client, base, email, password string, timeout time.Duration) {
	status, err := postJSON(c, base+"/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, nil, timeout)
	if err != nil {
		fatalf("register %s: %v", email, err)
	}
	if status != http.StatusOK {
		fatalf("register %s: status=%d", email, status)
	}
}

func mustCreateCanvas(c *http.Client, base, name string, timeout time.Duration) string {
	var out struct {
		ID string `json:"id"`
	}
	status, err := postJSON(c, base+"/api/canvases", map[string]string{"name": name}, &out, timeout)
	if err != nil {
		fatalf("create canvas: %v", err)
	}
	if status != http.StatusOK || strings.TrimSpace(out.ID) == "" {
		fatalf("create canvas: status=%d id=%q", status, out.ID)
	}
	return out.ID
}

func mustGrant(c *http.Client, base, canvasID, email, level string, timeout time.Duration) {
	status, err := postJSON(c, base+"/api/canvases/permissions", map[string]string{
		"canvas_id": canvasID,
		"email":     email,
		"level":     level,
	}, nil, timeout)
	if err != nil {
		fatalf("grant %s=%s: %v", email, level, err)
	}
	if status != http.StatusNoContent {
		fatalf("grant %s=%s: status=%d", email, level, status)
	}
}

func sessionCookie(c *http.Client, base string) string {
	u, err := url.Parse(base)
	if err != nil {
		fatalf("parse base url: %v", err)
	}
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == sessionCookieName {
			return ck.Name + "=" + ck.Value
		}
	}
	fatalf("session cookie missing for %s", base)
	return ""
}

// ---- websocket steps ----

func mustConnect(parent context.Context, name, wsURL, origin, cookie string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Cookie", cookie)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan serverMsg, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var msg serverMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- msg:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustWrite(parent context.Context, c *smokeClient, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal (%s): %v", c.name, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write (%s): %v", c.name, err)
	}
}

// mustRegisterForCanvas subscribes and asserts the replay sequence: the
// moderation flag first, then the history, then the caller's permission.
func mustRegisterForCanvas(parent context.Context, c *smokeClient, canvasID, wantPerm string, stepTimeout time.Duration) {
	mustWrite(parent, c, map[string]string{"command": "registerForCanvas", "canvasId": canvasID}, stepTimeout)

	mod := c.mustRead(parent, stepTimeout)
	if mod.Moderated == nil || mod.CanvasID != canvasID {
		fatalf("expected moderation notice (%s), got %+v", c.name, mod)
	}

	hist := c.mustRead(parent, stepTimeout)
	if hist.Events == nil || hist.CanvasID != canvasID {
		fatalf("expected history (%s), got %+v", c.name, hist)
	}

	perm := c.mustRead(parent, stepTimeout)
	if perm.YourPermission == nil || perm.CanvasID != canvasID {
		fatalf("expected permission notice (%s), got %+v", c.name, perm)
	}
	if *perm.YourPermission != wantPerm {
		fatalf("permission mismatch (%s): got=%q want=%q", c.name, *perm.YourPermission, wantPerm)
	}
}

func mustSend(parent context.Context, c *smokeClient, canvasID string, events []json.RawMessage, stepTimeout time.Duration) {
	mustWrite(parent, c, map[string]any{"canvasId": canvasID, "eventsForCanvas": events}, stepTimeout)
}

func mustReceiveEvents(parent context.Context, c *smokeClient, canvasID string, want json.RawMessage, stepTimeout time.Duration) {
	msg := c.mustRead(parent, stepTimeout)
	if msg.Events == nil || msg.CanvasID != canvasID {
		fatalf("expected event broadcast (%s), got %+v", c.name, msg)
	}
	for _, ev := range msg.Events {
		if jsonEqual(ev, want) {
			return
		}
	}
	fatalf("broadcast missing expected event (%s)", c.name)
}

func mustToggleModerated(parent context.Context, c *smokeClient, canvasID string, want bool, stepTimeout time.Duration) {
	mustWrite(parent, c, map[string]string{"command": "toggleModerated", "canvasId": canvasID}, stepTimeout)
	mustModeratedNotice(parent, c, canvasID, want, stepTimeout)
}

func mustModeratedNotice(parent context.Context, c *smokeClient, canvasID string, want bool, stepTimeout time.Duration) {
	msg := c.mustRead(parent, stepTimeout)
	if msg.Moderated == nil || msg.CanvasID != canvasID {
		fatalf("expected moderation notice (%s), got %+v", c.name, msg)
	}
	if *msg.Moderated != want {
		fatalf("moderation mismatch (%s): got=%v want=%v", c.name, *msg.Moderated, want)
	}
}

func mustAssertNoEvents(parent context.Context, c *smokeClient, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case msg, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if msg.Events != nil {
				fatalf("unexpected event broadcast (%s)", c.name)
			}
		}
	}
}

func (c *smokeClient) mustRead(parent context.Context, stepTimeout time.Duration) serverMsg {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for message (%s): %v", c.name, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error (%s): %v", c.name, err)
	case msg, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed (%s)", c.name)
		}
		if msg.Notify != nil {
			fatalf("server advisory (%s): %q", c.name, *msg.Notify)
		}
		return msg
	}
	return serverMsg{}
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return bytes.Equal(ab, bb)
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
