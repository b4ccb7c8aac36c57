// Package main provides a CI-friendly WebSocket smoke test for the Lumora relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/helloAck session establishment
//   - sendMessage -> receiveMessage fanout of the user message to both clients
//   - a subsequent receiveMessage with sender "ai" carrying reply_to
//   - the full history via GET /messages, in submission order
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "lumora/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "lumora.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		httpURL = flag.String("http", "http://127.0.0.1:8080", "HTTP base URL for /messages")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "what is fourier transform", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		aiWait  = flag.Duration("ai-wait", 45*time.Second, "How long to wait for the ai reply")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustSend(root, a, *text, *timeout)

	userMsg := mustReceive(root, b, v1.SenderUser, *timeout)
	if userMsg.Text != *text {
		fatalf("user broadcast text mismatch: got=%q want=%q", userMsg.Text, *text)
	}
	_ = mustReceive(root, a, v1.SenderUser, *timeout)

	aiMsg := mustReceive(root, b, v1.SenderAI, *aiWait)
	if aiMsg.ReplyTo != userMsg.ID {
		fatalf("ai reply_to mismatch: got=%q want=%q", aiMsg.ReplyTo, userMsg.ID)
	}
	_ = mustReceive(root, a, v1.SenderAI, *aiWait)

	mustHistoryContains(*httpURL, userMsg.ID, aiMsg.ID, *timeout)

	fmt.Printf("OK: A=%s B=%s user_msg=%s ai_msg=%s\n", a.sessionID, b.sessionID, userMsg.ID, aiMsg.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
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
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal helloAck payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("helloAck missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

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

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
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

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s)", wantType, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("server error waiting for %q (%s): %s %s", wantType, c.name, p.Code, p.Message)
			}
			if env.Type == wantType {
				return env
			}
		}
	}
}

func mustSend(parent context.Context, c *smokeClient, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSendMessage,
		ID:   fmt.Sprintf("%s-send", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.SendMessagePayload{
			Text:   text,
			Sender: v1.SenderUser,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustReceive(parent context.Context, c *smokeClient, wantSender string, stepTimeout time.Duration) v1.ReceiveMessagePayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for receiveMessage sender=%q (%s)", wantSender, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed (%s)", c.name)
			}
			if env.Type != v1.TypeReceiveMessage {
				continue
			}

			var p v1.ReceiveMessagePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("unmarshal receiveMessage payload (%s): %v", c.name, err)
			}
			if p.Sender != wantSender {
				continue
			}
			if strings.TrimSpace(p.ID) == "" {
				fatalf("receiveMessage missing id (%s)", c.name)
			}
			if p.Timestamp.IsZero() {
				fatalf("receiveMessage missing timestamp (%s)", c.name)
			}
			return p
		}
	}
}

func mustHistoryContains(httpBase, userID, aiID string, stepTimeout time.Duration) {
	cl := &http.Client{Timeout: stepTimeout}

	resp, err := cl.Get(strings.TrimRight(httpBase, "/") + "/messages")
	if err != nil {
		fatalf("GET /messages: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("GET /messages: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("GET /messages: read: %v", err)
	}

	var msgs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		fatalf("GET /messages: bad json: %v", err)
	}

	userIdx, aiIdx := -1, -1
	for i, m := range msgs {
		switch m.ID {
		case userID:
			userIdx = i
		case aiID:
			aiIdx = i
		}
	}
	if userIdx < 0 || aiIdx < 0 {
		fatalf("GET /messages: missing messages: user=%d ai=%d", userIdx, aiIdx)
	}
	if aiIdx < userIdx {
		fatalf("GET /messages: ai reply ordered before its user message")
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write envelope: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
