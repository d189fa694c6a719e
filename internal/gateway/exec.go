package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultPageSize    = 100

	// maxListItems caps runaway queries during listing.
	maxListItems = 1000
)

// Exec is a Gateway that shells out to an external API helper (the
// authenticated `jira-api` wrapper script), keeping credentials and HTTP
// entirely outside this process.
//
// The helper contract: `jira-api GET <endpoint>` prints the JSON response
// for the tracker's REST endpoint on stdout and exits non-zero on failure.
type Exec struct {
	// Script is the path to the API helper.
	Script string

	// PageSize is the requested page size for listing. The backend may
	// return fewer per page; pagination relies on nextPageToken, not on the
	// requested size being honored.
	PageSize int

	// Timeout bounds a single helper invocation.
	Timeout time.Duration

	Logger zerolog.Logger
}

type searchResponse struct {
	Issues        []json.RawMessage `json:"issues"`
	NextPageToken string            `json:"nextPageToken"`
}

type issueKey struct {
	Key    string `json:"key"`
	Fields struct {
		Updated string `json:"updated"`
	} `json:"fields"`
}

// List resolves the query to its ordered key sequence, following
// nextPageToken until the backend reports the last page.
func (g *Exec) List(ctx context.Context, query string) ([]string, error) {
	var (
		keys  []string
		token string
	)

	for {
		endpoint := g.searchEndpoint(query, []string{"key"}, token)

		var resp searchResponse
		if err := g.call(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		if len(resp.Issues) == 0 {
			break
		}

		for _, raw := range resp.Issues {
			var ik issueKey
			if err := json.Unmarshal(raw, &ik); err != nil {
				return nil, fmt.Errorf("gateway: decode issue: %w", err)
			}
			keys = append(keys, ik.Key)
		}

		token = resp.NextPageToken
		if token == "" || len(keys) >= maxListItems {
			break
		}
	}

	return keys, nil
}

// FetchMinimal returns the remote version (the `updated` timestamp) for
// each of the given keys that still exists. The backend pages the result
// regardless of the requested size, so the token loop here is what makes
// batches larger than one page come back complete.
func (g *Exec) FetchMinimal(ctx context.Context, keys []string) (map[string]string, error) {
	versions := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return versions, nil
	}

	err := g.searchAll(ctx, keysQuery(keys), []string{"key", "updated"}, func(ik issueKey, _ json.RawMessage) {
		versions[ik.Key] = ik.Fields.Updated
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// FetchFull returns the full payload for each of the given keys, restricted
// to the requested fields. Follows pagination like FetchMinimal.
func (g *Exec) FetchFull(ctx context.Context, keys []string, fields []string) (map[string]json.RawMessage, error) {
	payloads := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return payloads, nil
	}

	err := g.searchAll(ctx, keysQuery(keys), fields, func(ik issueKey, raw json.RawMessage) {
		payloads[ik.Key] = raw
	})
	if err != nil {
		return nil, err
	}
	return payloads, nil
}

// searchAll walks every page of a search, following nextPageToken until the
// backend reports the last page, and hands each issue to visit.
func (g *Exec) searchAll(ctx context.Context, query string, fields []string, visit func(issueKey, json.RawMessage)) error {
	var token string
	for {
		endpoint := g.searchEndpoint(query, fields, token)

		var resp searchResponse
		if err := g.call(ctx, endpoint, &resp); err != nil {
			return err
		}

		for _, raw := range resp.Issues {
			var ik issueKey
			if err := json.Unmarshal(raw, &ik); err != nil {
				return fmt.Errorf("gateway: decode issue: %w", err)
			}
			visit(ik, raw)
		}

		token = resp.NextPageToken
		if token == "" || len(resp.Issues) == 0 {
			return nil
		}
	}
}

func (g *Exec) searchEndpoint(query string, fields []string, pageToken string) string {
	size := g.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	v := url.Values{}
	v.Set("jql", query)
	v.Set("fields", strings.Join(fields, ","))
	v.Set("maxResults", fmt.Sprint(size))
	if pageToken != "" {
		v.Set("nextPageToken", pageToken)
	}
	return "/search/jql?" + v.Encode()
}

func (g *Exec) call(ctx context.Context, endpoint string, out any) error {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.Script, "GET", endpoint)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		g.Logger.Debug().
			Str("endpoint", endpoint).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Err(err).
			Msg("api helper call failed")
		return Unavailable(fmt.Errorf("call %s: %w", endpoint, err))
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return Unavailable(fmt.Errorf("decode response for %s: %w", endpoint, err))
	}
	return nil
}

// keysQuery builds the `key in (...)` query used for batched fetches.
func keysQuery(keys []string) string {
	return "key in (" + strings.Join(keys, ",") + ")"
}

var _ Gateway = (*Exec)(nil)
