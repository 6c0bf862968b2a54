package orm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/medatechnology/goutil/print"
	"github.com/medatechnology/goutil/timedate"
)

// StatusStruct is the status of one database node. Dialects fill what applies to them,
// the rest stays empty.
type StatusStruct struct {
	URL        string        `json:"url,omitempty"          db:"url"`         // URL (host + port)
	Version    string        `json:"version,omitempty"      db:"version"`     // version of the DMBS
	DBMS       string        `json:"dbms,omitempty"         db:"dbms"`        // postgresql, rqlite
	DBMSDriver string        `json:"dbms_driver,omitempty"  db:"dbms_driver"` // lib/pq, pgx, gorqlite
	Database   string        `json:"database,omitempty"     db:"database"`
	StartTime  time.Time     `json:"start_time,omitempty"   db:"start_time"`
	Uptime     time.Duration `json:"uptime,omitempty"       db:"uptime"`
	DBSize     int64         `json:"db_size,omitempty"      db:"db_size"` // if applicable
	NodeID     string        `json:"node_id,omitempty"      db:"node_id"`
	IsLeader   bool          `json:"is_leader,omitempty"    db:"is_leader"`
	Leader     string        `json:"leader,omitempty"       db:"leader"` // complete address (including protocol, ie: https://...)
	Mode       string        `json:"mode,omitempty"         db:"mode"`   // r, w or rw
	Nodes      int           `json:"nodes,omitempty"        db:"nodes"`  // total number of nodes in the cluster
	NodeNumber int           `json:"node_number,omitempty"  db:"node_number"`
	MaxPool    int           `json:"max_pool,omitempty"     db:"max_pool"`
	Pool       PoolStats     `json:"pool"                   db:"-"`
}

// NodeStatusStruct is the status of the node the instance talks to, plus its peers
// for clustered dialects (keyed by node number, leader included).
//
//	st, err := db.Status(ctx)
//	st.PrintPretty()
type NodeStatusStruct struct {
	StatusStruct
	Peers map[int]StatusStruct `json:"peers,omitempty"`
}

// WritePretty writes the status as aligned "label: value" lines, skipping empty values.
func (s *StatusStruct) WritePretty(w io.Writer, indent, title string) {
	if title == "" {
		title = "Status"
	}
	fmt.Fprintln(w, title+":")
	uptime := timedate.DurationUptimeShort(s.Uptime)
	fields := []struct {
		label string
		value string
	}{
		{"URL", s.URL},
		{"DBMS", s.DBMS},
		{"Driver", s.DBMSDriver},
		{"Version", s.Version},
		{"Database", s.Database},
		{"Start Time", formatTime(s.StartTime)},
		{"Uptime", uptime},
		{"DB Size", sizeOrEmpty(s.DBSize)},
		{"Node ID", s.NodeID},
		{"Is Leader", boolOrEmpty(s.IsLeader)},
		{"Leader", s.Leader},
		{"Mode", s.Mode},
		{"Nodes", intOrEmpty(s.Nodes)},
		{"Node Number", intOrEmpty(s.NodeNumber)},
		{"Max Pool", intOrEmpty(s.MaxPool)},
		{"Pool", poolOrEmpty(s.Pool)},
	}

	maxLabelLength := 0
	for _, field := range fields {
		if len(field.label) > maxLabelLength {
			maxLabelLength = len(field.label)
		}
	}
	for _, field := range fields {
		if field.value != "" {
			fmt.Fprintf(w, "%s%-*s: %s\n", indent, maxLabelLength, field.label, field.value)
		}
	}
}

// PrintPretty prints the status to stdout, mainly for debugging
func (s *StatusStruct) PrintPretty(indent, title string) {
	s.WritePretty(os.Stdout, indent, title)
}

// WritePretty writes the node status followed by its peers in node order.
func (s *NodeStatusStruct) WritePretty(w io.Writer) {
	s.StatusStruct.WritePretty(w, "  ", "Status")
	keys := make([]int, 0, len(s.Peers))
	for k := range s.Peers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		p := s.Peers[k]
		if p.NodeID != "" && p.NodeID == s.NodeID {
			continue
		}
		p.WritePretty(w, "    ", fmt.Sprintf("  Peer %d", k))
	}
}

// PrintPretty prints the node status and its peers to stdout.
func (s *NodeStatusStruct) PrintPretty() {
	s.WritePretty(os.Stdout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func sizeOrEmpty(n int64) string {
	if n <= 0 {
		return ""
	}
	return print.BytesToHumanReadable(n, " ")
}

func intOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}

func boolOrEmpty(b bool) string {
	if !b {
		return ""
	}
	return "true"
}

func poolOrEmpty(p PoolStats) string {
	if p.MaxOpen == 0 && p.Open == 0 {
		return ""
	}
	return fmt.Sprintf("%d open, %d in use, %d idle (max %d)", p.Open, p.InUse, p.Idle, p.MaxOpen)
}
