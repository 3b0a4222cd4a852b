// Package indexer implements the client for the off-chain ownership
// indexer, the engine's source of truth.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/oracle"
	"github.com/jefdiesel/appchain-ens/oracle/names"
)

const moduleName = "indexer"

// Client is a client for the ownership indexer API. The indexer's view is
// trusted as-is; the client performs no consensus verification.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// NewClient creates a new indexer client. The HTTP client handle is
// explicit so tests can point it at a fake server.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing indexer URL %s: %w", baseURL, err)
	}
	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger.WithModule(moduleName),
	}, nil
}

// existsResponse mirrors the indexer's record-existence endpoint.
type existsResponse struct {
	Result struct {
		Exists       bool `json:"exists"`
		Ethscription *struct {
			CurrentOwner string `json:"current_owner"`
		} `json:"ethscription"`
	} `json:"result"`
}

// FetchOwner returns the current owner of a name per the indexer, or nil
// when the record is absent. A failed or malformed read is logged and also
// reported as absent: the desired state is then unknown for this cycle, and
// an unknown owner must never be mistaken for "confirmed unowned".
func (c *Client) FetchOwner(ctx context.Context, name string) *ethCommon.Address {
	id := names.Derive(name)

	u := *c.baseURL
	u.Path = path.Join(u.Path, "exists", id.Hex())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.logger.Warn("building indexer request", "name", name, "err", err)
		return nil
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("indexer unreachable, treating name as absent", "name", name, "err", err)
		return nil
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		c.logger.Warn("reading indexer response, treating name as absent", "name", name, "err", err)
		return nil
	}
	if res.StatusCode != http.StatusOK {
		c.logger.Warn("indexer call failed, treating name as absent", "name", name, "status", res.Status)
		return nil
	}

	var parsed existsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("malformed indexer response, treating name as absent", "name", name, "err", err)
		return nil
	}
	if !parsed.Result.Exists || parsed.Result.Ethscription == nil || parsed.Result.Ethscription.CurrentOwner == "" {
		return nil
	}

	owner := oracle.NormalizeOwner(parsed.Result.Ethscription.CurrentOwner)
	if !oracle.OwnerIsSet(owner) {
		// A zero owner is not a meaningful desired state.
		return nil
	}
	return &owner
}
