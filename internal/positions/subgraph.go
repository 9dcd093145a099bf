package positions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"irs-keeper/internal/irs"
)

const positionsQuery = `query Positions($first: Int!, $lastID: String!) {
  positions(first: $first, orderBy: id, orderDirection: asc, where: {id_gt: $lastID}) {
    id
    owner { id }
    tickLower
    tickUpper
    amm { marginEngine { id } }
  }
}`

// SubgraphOptions parameterise the subgraph source.
type SubgraphOptions struct {
	URL       string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Subgraph pages positions out of an indexer GraphQL endpoint.
type Subgraph struct {
	opts   SubgraphOptions
	logger zerolog.Logger
	client *http.Client
}

// NewSubgraph constructs a subgraph source.
func NewSubgraph(opts SubgraphOptions, logger zerolog.Logger) *Subgraph {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	opts.URL = strings.TrimSpace(opts.URL)

	return &Subgraph{
		opts:   opts,
		logger: logger.With().Str("component", "subgraph_positions").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type positionsResponse struct {
	Data struct {
		Positions []struct {
			ID        string `json:"id"`
			Owner     struct{ ID string } `json:"owner"`
			TickLower string `json:"tickLower"`
			TickUpper string `json:"tickUpper"`
			AMM       struct {
				MarginEngine struct{ ID string } `json:"marginEngine"`
			} `json:"amm"`
		} `json:"positions"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Load implements Source.
func (s *Subgraph) Load(ctx context.Context) ([]irs.Position, error) {
	if s.opts.URL == "" {
		return nil, errors.New("subgraph url is required")
	}

	var out []irs.Position
	lastID := ""
	for page := 0; ; page++ {
		res, err := s.fetchPage(ctx, lastID)
		if err != nil {
			return nil, fmt.Errorf("subgraph page %d: %w", page, err)
		}
		for _, raw := range res.Data.Positions {
			lower, err := parseTick("tickLower", raw.TickLower)
			if err != nil {
				return nil, fmt.Errorf("position %s: %w", raw.ID, err)
			}
			upper, err := parseTick("tickUpper", raw.TickUpper)
			if err != nil {
				return nil, fmt.Errorf("position %s: %w", raw.ID, err)
			}
			p, err := record{Owner: raw.Owner.ID, MarginEngine: raw.AMM.MarginEngine.ID, TickLower: lower, TickUpper: upper}.position()
			if err != nil {
				return nil, fmt.Errorf("position %s: %w", raw.ID, err)
			}
			out = append(out, p)
		}

		n := len(res.Data.Positions)
		s.logger.Debug().Int("page", page).Int("positions", n).Msg("subgraph page loaded")
		if n < s.opts.PageSize {
			break
		}
		lastID = res.Data.Positions[n-1].ID
	}
	return out, nil
}

func (s *Subgraph) fetchPage(ctx context.Context, lastID string) (*positionsResponse, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     positionsQuery,
		Variables: map[string]any{"first": s.opts.PageSize, "lastID": lastID},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "irskeeper/1.0")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res positionsResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("subgraph error: %s", strings.Join(msgs, "; "))
	}
	return &res, nil
}

func parseHTTPError(status int, payload []byte) error {
	var res positionsResponse
	if err := json.Unmarshal(payload, &res); err == nil && len(res.Errors) > 0 {
		return fmt.Errorf("subgraph error (%d): %s", status, res.Errors[0].Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("subgraph error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("subgraph error (%d)", status)
}

var _ Source = (*Subgraph)(nil)
