package orm

import (
	"bytes"
	"strings"
	"testing"
)

func TestStatusWritePretty(t *testing.T) {
	st := NodeStatusStruct{
		StatusStruct: StatusStruct{
			URL:      "http://localhost:4001",
			DBMS:     "rqlite",
			Version:  "v8.20.0",
			NodeID:   "1",
			IsLeader: true,
			Nodes:    3,
			Pool:     PoolStats{MaxOpen: 4, Open: 2, InUse: 1, Idle: 1},
		},
		Peers: map[int]StatusStruct{
			3: {NodeID: "3", URL: "http://node3:4001"},
			1: {NodeID: "1", URL: "http://localhost:4001"},
			2: {NodeID: "2", URL: "http://node2:4001"},
		},
	}

	var buf bytes.Buffer
	st.WritePretty(&buf)
	out := buf.String()

	for _, line := range []string{
		"Status:\n",
		"  URL        : http://localhost:4001\n",
		"  Is Leader  : true\n",
		"  Nodes      : 3\n",
		"  Pool       : 2 open, 1 in use, 1 idle (max 4)\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in\n%s", line, out)
		}
	}
	if strings.Contains(out, "Driver") || strings.Contains(out, "Leader     :") {
		t.Errorf("empty values must be skipped:\n%s", out)
	}
	if strings.Contains(out, "Peer 1") {
		t.Errorf("the node itself must not be listed as a peer:\n%s", out)
	}
	if i, j := strings.Index(out, "Peer 2"), strings.Index(out, "Peer 3"); i < 0 || j < i {
		t.Errorf("peers out of order:\n%s", out)
	}
}
