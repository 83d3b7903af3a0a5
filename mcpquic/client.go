package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// HandshakeTimeout bounds the MCP initialize exchange after the QUIC
// handshake.
const HandshakeTimeout = 10 * time.Second

// ToolError is a tool call that reached the server and failed there.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcpquic: tool %s: %s", e.Tool, e.Message)
}

// Client is one MCP session over a QUIC connection. It is created
// connected by Dial and is unusable after Close.
type Client struct {
	addr    string
	conn    *quic.Conn
	stream  *quic.Stream
	session *mcp.ClientSession
}

// Dial connects to a Listener at addr and completes the MCP handshake. A
// nil tlsCfg verifies the server certificate.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config) (*Client, error) {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: dial %s: %w", addr, err)
	}
	c := &Client{addr: addr, conn: conn}

	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		return nil, c.abort(ConnErrorUnsupportedALPN, fmt.Errorf("%w: got %q", ErrUnsupportedALPN, alpn))
	}
	if c.stream, err = conn.OpenStreamSync(ctx); err != nil {
		return nil, c.abort(ConnErrorProtocolViolation, err)
	}
	if err := SendMagicBytes(c.stream); err != nil {
		return nil, c.abort(ConnErrorProtocolViolation, err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "feedsync-quic", Version: "1.0.0"}, nil)
	c.session, err = client.Connect(hsCtx, &mcp.IOTransport{
		Reader: io.NopCloser(c.stream),
		Writer: streamWriteCloser{c.stream},
	}, nil)
	if err != nil {
		return nil, c.abort(ConnErrorProtocolViolation, fmt.Errorf("mcp initialize: %w", err))
	}
	return c, nil
}

// abort closes the half-built connection and reports why.
func (c *Client) abort(code quic.ApplicationErrorCode, err error) error {
	if c.stream != nil {
		c.stream.Close()
	}
	c.conn.CloseWithError(code, "handshake failed")
	return &ConnectionError{RemoteAddr: c.addr, Code: code, Err: err}
}

// Tools returns the server's tool names, sorted.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	res, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Call invokes a tool and returns its text output. Failures reported by
// the tool itself come back as *ToolError.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", &ToolError{Tool: tool, Message: b.String()}
	}
	return b.String(), nil
}

// Close ends the session and the connection.
func (c *Client) Close() error {
	err := c.session.Close()
	c.stream.Close()
	c.conn.CloseWithError(ConnErrorNoError, "client closing")
	return err
}
