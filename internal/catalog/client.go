package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/flatten"
	"github.com/Checker-Finance/instrument-provider/internal/httpclient"
)

const treePath = "/api/v1/catalog/tree"

// Client fetches the venue's instrument tree from the catalog REST API.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	venue   string
	creds   CredentialSource
}

// NewClient constructs a catalog client. creds may be nil for open catalogs.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, baseURL, venue string, creds CredentialSource) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if creds == nil {
		creds = StaticKey("")
	}
	return &Client{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		venue:   venue,
		creds:   creds,
	}
}

// FetchTree retrieves the full instrument tree.
// GET /api/v1/catalog/tree
func (c *Client) FetchTree(ctx context.Context) (flatten.Node, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog credentials: %w", err)
	}

	headers := http.Header{}
	if key != "" {
		headers.Set("X-API-Key", key)
	}

	var tree flatten.Node
	if err := c.exec.GetJSON(ctx, c.baseURL+treePath, headers, c.venue, &tree); err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized) || httpclient.IsStatus(err, http.StatusForbidden) {
			c.creds.Invalidate()
		}
		c.logger.Warn("catalog.fetch_failed", zap.String("venue", c.venue), zap.Error(err))
		return nil, fmt.Errorf("fetch %s catalog: %w", c.venue, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("fetch %s catalog: empty response", c.venue)
	}
	return tree, nil
}
