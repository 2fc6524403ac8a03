// Package kerneltest provides an in-process fake Enterprise Gateway for tests.
package kerneltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/mntdata/internal/protocol"
)

// Reply scripts the kernel's answer to one execute_request.
type Reply struct {
	Stdout   string
	Stderr   string
	Results  []string
	ImagePNG string
	Error    *protocol.Error
	// Hang never answers, holding the socket until the client goes away.
	Hang bool
}

// Gateway is a fake gateway backed by httptest.Server.
type Gateway struct {
	*httptest.Server

	// Token, when set, is required in the Authorization header.
	Token string
	// OnExecute produces the reply for each execute_request. The default
	// prints "ok".
	OnExecute func(code string) Reply

	upgrader websocket.Upgrader

	mu      sync.Mutex
	nextID  int
	created []string
	deleted []string
	codes   []string
	envs    []map[string]string
}

// New starts a fake gateway. Call Close when done.
func New() *Gateway {
	g := &Gateway{}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serveHTTP))
	return g
}

// Codes returns every executed code string in order.
func (g *Gateway) Codes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.codes...)
}

// Created returns the ids of started kernels.
func (g *Gateway) Created() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.created...)
}

// Deleted returns the ids of deleted kernels.
func (g *Gateway) Deleted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

// Envs returns the env maps sent with each kernel start.
func (g *Gateway) Envs() []map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]string(nil), g.envs...)
}

func (g *Gateway) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if g.Token != "" && r.Header.Get("Authorization") != "token "+g.Token {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "api/kernelspecs" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"default":"python3","kernelspecs":{"python3":{"name":"python3","spec":{"language":"python","display_name":"Python 3"}}}}`))

	case path == "api/kernels" && r.Method == http.MethodPost:
		var body struct {
			Name string            `json:"name"`
			Env  map[string]string `json:"env"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.nextID++
		id := fmt.Sprintf("kernel-%d", g.nextID)
		g.created = append(g.created, id)
		g.envs = append(g.envs, body.Env)
		g.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": body.Name})

	case strings.HasPrefix(path, "api/kernels/") && strings.HasSuffix(path, "/channels"):
		g.serveChannels(w, r)

	case strings.HasPrefix(path, "api/kernels/") && r.Method == http.MethodDelete:
		g.mu.Lock()
		g.deleted = append(g.deleted, strings.TrimPrefix(path, "api/kernels/"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (g *Gateway) serveChannels(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.Unmarshal(raw)
		if err != nil {
			return
		}

		switch req.Type() {
		case protocol.TypeKernelInfoRequest:
			if err := send(conn, req, protocol.TypeKernelInfoReply, map[string]any{"status": "ok"}); err != nil {
				return
			}

		case protocol.TypeExecuteRequest:
			var content protocol.ExecuteRequest
			if err := req.DecodeContent(&content); err != nil {
				return
			}
			g.mu.Lock()
			g.codes = append(g.codes, content.Code)
			g.mu.Unlock()

			reply := Reply{Stdout: "ok"}
			if g.OnExecute != nil {
				reply = g.OnExecute(content.Code)
			}
			if reply.Hang {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}
			if err := answer(conn, req, reply); err != nil {
				return
			}
		}
	}
}

func answer(conn *websocket.Conn, req *protocol.Message, reply Reply) error {
	// Traffic for another request must be ignored by the client.
	stray := &protocol.Message{Header: protocol.Header{MsgID: "stray"}}
	if err := send(conn, stray, protocol.TypeStream, protocol.Stream{Name: "stdout", Text: "not yours"}); err != nil {
		return err
	}
	if err := send(conn, req, protocol.TypeStatus, protocol.Status{ExecutionState: "busy"}); err != nil {
		return err
	}
	if reply.Stdout != "" {
		if err := send(conn, req, protocol.TypeStream, protocol.Stream{Name: "stdout", Text: reply.Stdout}); err != nil {
			return err
		}
	}
	if reply.Stderr != "" {
		if err := send(conn, req, protocol.TypeStream, protocol.Stream{Name: "stderr", Text: reply.Stderr}); err != nil {
			return err
		}
	}
	for _, text := range reply.Results {
		if err := send(conn, req, protocol.TypeExecuteResult, protocol.DisplayData{Data: map[string]any{"text/plain": text}}); err != nil {
			return err
		}
	}
	if reply.ImagePNG != "" {
		if err := send(conn, req, protocol.TypeDisplayData, protocol.DisplayData{Data: map[string]any{"image/png": reply.ImagePNG}}); err != nil {
			return err
		}
	}
	status := "ok"
	if reply.Error != nil {
		status = "error"
		if err := send(conn, req, protocol.TypeError, reply.Error); err != nil {
			return err
		}
	}
	return send(conn, req, protocol.TypeExecuteReply, protocol.ExecuteReply{Status: status, ExecutionCount: 1})
}

func send(conn *websocket.Conn, parent *protocol.Message, msgType string, content any) error {
	msg, err := protocol.NewMessage(uuid.New().String(), msgType, "kernel", parent.Header.Session, content)
	if err != nil {
		return err
	}
	msg.ParentHeader = parent.Header
	msg.Channel = protocol.ChannelIOPub
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
