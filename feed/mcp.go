// CLAUDE:SUMMARY MCP tool surface of the feed client (state, episode, refresh, reload, unlock, navigate).
package feed

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedsync/kit"
)

// RegisterMCP registers the feed tools on an MCP server.
func (c *Client) RegisterMCP(srv *mcp.Server) {
	c.registerStateTool(srv)
	c.registerEpisodeTool(srv)
	c.registerRefreshTool(srv)
	c.registerReloadTool(srv)
	c.registerUnlockTool(srv)
	c.registerNavigateTool(srv)
}

func (c *Client) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(c.logger, name))(ep)
}

// --- state ---

type stateReq struct {
	IncludeEpisodes bool `json:"include_episodes"`
}

func (c *Client) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_state",
		Description: "Current feed state: load status, page, gate, stats and (optionally) episodes.",
		InputSchema: kit.InputSchema(map[string]any{
			"include_episodes": map[string]any{"type": "boolean", "description": "Include the full episode list"},
		}),
	}
	ep := func(_ context.Context, req any) (any, error) {
		return c.View(req.(*stateReq).IncludeEpisodes), nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[stateReq]())
}

// --- episode ---

type episodeReq struct {
	Sequence int `json:"sequence"`
}

func (c *Client) registerEpisodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_episode",
		Description: "Return one normalized episode by sequence number.",
		InputSchema: kit.InputSchema(map[string]any{
			"sequence": map[string]any{"type": "integer", "description": "Episode sequence number (1-based)"},
		}, "sequence"),
	}
	ep := func(_ context.Context, req any) (any, error) {
		r := req.(*episodeReq)
		if r.Sequence <= 0 {
			return nil, errors.New("sequence must be positive")
		}
		return c.Episode(r.Sequence)
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[episodeReq]())
}

// --- refresh ---

func (c *Client) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_refresh",
		Description: "Invalidate and reload the episodes and stats documents.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		s := c.State()
		return map[string]any{"status": s.Status, "episodes": len(s.Episodes), "loaded_at": s.LoadedAt}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[struct{}]())
}

// --- reload ---

func (c *Client) registerReloadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_reload",
		Description: "Rerun the full startup sequence after a failed load. An unlocked gate stays unlocked.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		st, err := c.Reload(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"gate": st, "status": c.Status()}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[struct{}]())
}

// --- unlock ---

type unlockReq struct {
	Passphrase string `json:"passphrase"`
}

func (c *Client) registerUnlockTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_unlock",
		Description: "Submit the maintenance passphrase and resume loading.",
		InputSchema: kit.InputSchema(map[string]any{
			"passphrase": map[string]any{"type": "string"},
		}, "passphrase"),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*unlockReq)
		if err := c.Unlock(ctx, r.Passphrase); err != nil {
			return nil, err
		}
		return map[string]any{"gate": c.gate.State(), "status": c.Status()}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[unlockReq]())
}

// --- navigate ---

type navigateReq struct {
	Page       string `json:"page"`
	UpdateHash bool   `json:"update_hash"`
}

func (c *Client) registerNavigateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feed_navigate",
		Description: "Switch the current page (home, archive, cast, stats, about).",
		InputSchema: kit.InputSchema(map[string]any{
			"page":        map[string]any{"type": "string"},
			"update_hash": map[string]any{"type": "boolean"},
		}, "page"),
	}
	ep := func(_ context.Context, req any) (any, error) {
		r := req.(*navigateReq)
		page, changed := c.Navigate(r.Page, r.UpdateHash)
		return map[string]any{"page": page, "changed": changed}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, ep), kit.DecodeArgs[navigateReq]())
}
