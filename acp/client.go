package acp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// protocolVersion is the ACP protocol revision this client speaks.
const protocolVersion = 1

// rpcRequest is an outgoing JSON-RPC 2.0 request or notification
// (notifications carry no id).
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is an incoming JSON-RPC 2.0 response or server notification.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("acp rpc error %d: %s", e.Code, e.Message)
}

// Conn is a client-side JSON-RPC connection over the agent subprocess's
// piped streams. Transport is newline-delimited JSON. Session notifications
// ("session/update") are delivered to OnNotify; agent-initiated requests
// (fs/*, session/request_permission) are dispatched to OnRequest and their
// results written back.
type Conn struct {
	w      io.Writer
	wMu    sync.Mutex
	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse

	// OnNotify receives server notifications (method, params).
	OnNotify func(method string, params json.RawMessage)
	// OnRequest answers agent-initiated requests. The returned value is
	// marshalled as the JSON-RPC result; an error becomes an error
	// response. Nil OnRequest rejects every request.
	OnRequest func(method string, params json.RawMessage) (any, error)

	readErr  error
	readDone chan struct{}
}

// NewConn starts a connection over the given pipes. The read loop runs
// until stdout closes.
func NewConn(stdin io.Writer, stdout io.Reader) *Conn {
	c := &Conn{
		w:        stdin,
		pending:  make(map[int64]chan rpcResponse),
		readDone: make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

func (c *Conn) readLoop(r io.Reader) {
	defer close(c.readDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue // skip malformed lines
		}
		if resp.ID != nil && resp.Method == "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[*resp.ID]
			if ok {
				delete(c.pending, *resp.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}
		if resp.ID != nil && resp.Method != "" {
			// Agent-initiated request (fs/read_text_file,
			// session/request_permission, ...). Answer off the read loop so
			// a slow handler cannot stall response matching.
			go c.handleRequest(*resp.ID, resp.Method, resp.Params)
			continue
		}
		if resp.Method != "" && c.OnNotify != nil {
			c.OnNotify(resp.Method, resp.Params)
		}
	}
	c.readErr = scanner.Err()

	// Fail any requests still waiting when the stream closes.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}

func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wMu.Lock()
	defer c.wMu.Unlock()
	_, err = c.w.Write(append(data, '\n'))
	return err
}

// Call sends a request and blocks for the matching response or stream
// close.
func (c *Conn) Call(method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return err
	}

	resp, ok := <-ch
	if !ok {
		return fmt.Errorf("acp: connection closed before response to %s", method)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

// handleRequest runs one agent-initiated request through OnRequest and
// writes the response.
func (c *Conn) handleRequest(id int64, method string, params json.RawMessage) {
	type response struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      int64     `json:"id"`
		Result  any       `json:"result,omitempty"`
		Error   *rpcError `json:"error,omitempty"`
	}

	if c.OnRequest == nil {
		_ = c.write(response{JSONRPC: "2.0", ID: id,
			Error: &rpcError{Code: -32601, Message: "method not supported: " + method}})
		return
	}
	result, err := c.OnRequest(method, params)
	if err != nil {
		_ = c.write(response{JSONRPC: "2.0", ID: id,
			Error: &rpcError{Code: -32603, Message: err.Error()}})
		return
	}
	if result == nil {
		result = struct{}{}
	}
	_ = c.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

// --- protocol payloads ---

type initializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      implementationInfo `json:"clientInfo"`
	Capabilities    clientCapabilities `json:"clientCapabilities"`
}

type implementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type clientCapabilities struct {
	FS       fsCapability `json:"fs"`
	Terminal bool         `json:"terminal"`
}

type fsCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type newSessionParams struct {
	CWD string `json:"cwd"`
}

type newSessionResult struct {
	SessionID string `json:"sessionId"`
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

type promptResult struct {
	StopReason string `json:"stopReason"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

// sessionUpdate is the payload of "session/update" notifications; text
// chunks accumulate into the worker's result.
type sessionUpdate struct {
	SessionID string `json:"sessionId"`
	Update    struct {
		Kind    string `json:"sessionUpdate"`
		Content struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"update"`
}
