package positions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/irs"
)

const (
	ownerA  = "0x00000000000000000000000000000000000000a1"
	ownerB  = "0x00000000000000000000000000000000000000b2"
	engineX = "0x0000000000000000000000000000000000000e01"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileCSVWithReorderedColumns(t *testing.T) {
	path := writeFile(t, "positions.csv", "tickUpper,tickLower,marginEngine,owner\n"+
		"60,-60,"+engineX+","+ownerA+"\n"+
		"120,0,"+engineX+","+ownerB+"\n"+
		"60,-60,"+engineX+","+ownerA+"\n")

	got, err := Load(context.Background(), File{Path: path})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, irs.Position{
		Owner:        common.HexToAddress(ownerA),
		MarginEngine: common.HexToAddress(engineX),
		TickLower:    -60,
		TickUpper:    60,
	}, got[0])
	assert.Equal(t, int32(120), got[1].TickUpper)
}

func TestFileCSVMissingColumn(t *testing.T) {
	path := writeFile(t, "positions.csv", "owner,tickLower,tickUpper\n"+ownerA+",-60,60\n")
	_, err := File{Path: path}.Load(context.Background())
	assert.ErrorContains(t, err, "marginEngine")
}

func TestFileJSON(t *testing.T) {
	path := writeFile(t, "positions.json", `[
  {"owner":"`+ownerA+`","marginEngine":"`+engineX+`","tickLower":-6960,"tickUpper":0}
]`)
	got, err := File{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(-6960), got[0].TickLower)
}

func TestFileRejectsInvalidRange(t *testing.T) {
	path := writeFile(t, "positions.json", `[{"owner":"`+ownerA+`","marginEngine":"`+engineX+`","tickLower":60,"tickUpper":60}]`)
	_, err := File{Path: path}.Load(context.Background())
	assert.Error(t, err)
}

func TestFileRejectsBadAddress(t *testing.T) {
	path := writeFile(t, "positions.json", `[{"owner":"0x12","marginEngine":"`+engineX+`","tickLower":0,"tickUpper":60}]`)
	_, err := File{Path: path}.Load(context.Background())
	assert.ErrorContains(t, err, "owner")
}

func TestFileUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "positions.txt", "")
	_, err := File{Path: path}.Load(context.Background())
	assert.Error(t, err)
}

func subgraphPosition(id, owner string, lower, upper string) map[string]any {
	return map[string]any{
		"id":        id,
		"owner":     map[string]string{"id": owner},
		"tickLower": lower,
		"tickUpper": upper,
		"amm":       map[string]any{"marginEngine": map[string]string{"id": engineX}},
	}
}

func TestSubgraphPaginates(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		cursor := req.Variables["lastID"].(string)
		cursors = append(cursors, cursor)

		var page []map[string]any
		switch cursor {
		case "":
			page = []map[string]any{
				subgraphPosition("p1", ownerA, "-60", "60"),
				subgraphPosition("p2", ownerB, "0", "120"),
			}
		case "p2":
			page = []map[string]any{subgraphPosition("p3", ownerA, "-120", "0")}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"positions": page}})
	}))
	defer srv.Close()

	s := NewSubgraph(SubgraphOptions{URL: srv.URL, PageSize: 2, Timeout: time.Second}, zerolog.Nop())
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2"}, cursors)
	require.Len(t, got, 3)
	assert.Equal(t, common.HexToAddress(ownerB), got[1].Owner)
	assert.Equal(t, int32(-120), got[2].TickLower)
}

func TestSubgraphGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]string{{"message": "indexer unavailable"}}})
	}))
	defer srv.Close()

	s := NewSubgraph(SubgraphOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "indexer unavailable")
}

func TestSubgraphHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSubgraph(SubgraphOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "502")
}

type fakeLister struct {
	network string
	list    []irs.Position
}

func (f *fakeLister) ListPositions(_ context.Context, network string) ([]irs.Position, error) {
	f.network = network
	return f.list, nil
}

func TestDatabaseSourceDedupes(t *testing.T) {
	p := irs.Position{Owner: common.HexToAddress(ownerA), MarginEngine: common.HexToAddress(engineX), TickLower: -60, TickUpper: 60}
	lister := &fakeLister{list: []irs.Position{p, p}}

	got, err := Load(context.Background(), Database{Store: lister, Network: "arbitrum"})
	require.NoError(t, err)
	assert.Equal(t, "arbitrum", lister.network)
	assert.Equal(t, []irs.Position{p}, got)
}
