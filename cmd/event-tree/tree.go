package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/stupiduntilnot/slavik/internal/db"
)

const maxValueRunes = 80

// Event is a journal event with its children attached.
type Event struct {
	db.StoredEvent
	Children []*Event
}

// loadTree reads the subtree rooted at rootID.
func loadTree(database *sql.DB, rootID int64) (*Event, error) {
	rows, err := db.Subtree(database, rootID)
	if err != nil {
		return nil, fmt.Errorf("query subtree: %w", err)
	}
	root := buildTree(rows, rootID)
	if root == nil {
		return nil, fmt.Errorf("event %d not found", rootID)
	}
	return root, nil
}

// buildTree links rows into a tree and returns the node for rootID.
func buildTree(rows []db.StoredEvent, rootID int64) *Event {
	byID := make(map[int64]*Event, len(rows))
	for _, r := range rows {
		byID[r.ID] = &Event{StoredEvent: r}
	}
	for _, r := range rows {
		if r.ParentID == 0 || r.ParentID == r.ID {
			continue
		}
		if parent, ok := byID[r.ParentID]; ok {
			parent.Children = append(parent.Children, byID[r.ID])
		}
	}
	for _, ev := range byID {
		sort.Slice(ev.Children, func(i, j int) bool { return ev.Children[i].ID < ev.Children[j].ID })
	}
	return byID[rootID]
}

// chatOf returns the chat_id carried by ev, if any.
func chatOf(ev *Event) (int64, bool) {
	v, ok := ev.Payload["chat_id"].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// filterChat returns a copy of root keeping only the children that belong
// to chatID. Events without a chat are dropped.
func filterChat(root *Event, chatID int64) *Event {
	kept := &Event{StoredEvent: root.StoredEvent}
	for _, child := range root.Children {
		if id, ok := chatOf(child); ok && id == chatID {
			kept.Children = append(kept.Children, child)
		}
	}
	return kept
}

// chatStats counts what happened in one chat.
type chatStats struct {
	ChatID             int64
	Messages           int
	Directed           int
	Replies            int
	SendFailures       int
	CompletionFailures int
	Rejected           int
	Directives         int
}

// summarize walks the tree and aggregates events per chat. Events without
// a chat_id inherit the chat of their parent.
func summarize(root *Event) []chatStats {
	byChat := map[int64]*chatStats{}
	var walk func(ev *Event, chat int64, known bool)
	walk = func(ev *Event, chat int64, known bool) {
		if id, ok := chatOf(ev); ok {
			chat, known = id, true
		}
		if known {
			s := byChat[chat]
			if s == nil {
				s = &chatStats{ChatID: chat}
				byChat[chat] = s
			}
			switch ev.Type {
			case db.EventMessageReceived:
				s.Messages++
				if directed, _ := ev.Payload["directed"].(bool); directed {
					s.Directed++
				}
			case db.EventReplySent:
				s.Replies++
			case db.EventSendFailed:
				s.SendFailures++
			case db.EventCompletionFailed:
				s.CompletionFailures++
			case db.EventReplyRejected:
				s.Rejected++
			case db.EventDirectiveApplied:
				s.Directives++
			}
		}
		for _, child := range ev.Children {
			walk(child, chat, known)
		}
	}
	walk(root, 0, false)

	stats := make([]chatStats, 0, len(byChat))
	for _, id := range slices.Sorted(maps.Keys(byChat)) {
		stats = append(stats, *byChat[id])
	}
	return stats
}

func printStats(out io.Writer, stats []chatStats) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAT\tMESSAGES\tDIRECTED\tREPLIES\tSEND_FAILED\tCOMPLETION_FAILED\tREJECTED\tDIRECTIVES")
	for _, s := range stats {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.ChatID, s.Messages, s.Directed, s.Replies, s.SendFailures, s.CompletionFailures, s.Rejected, s.Directives)
	}
	return tw.Flush()
}

// printTree renders the event tree using box-drawing characters.
func printTree(out io.Writer, ev *Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(out, line)
	} else {
		fmt.Fprintln(out, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(out, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(out, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent formats one line: [id] timestamp  type  key=value ...
func formatEvent(ev *Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.Type)
	if noPayload {
		return line
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Payload)) {
		line += fmt.Sprintf("  %s=%s", k, formatValue(ev.Payload[k]))
	}
	return line
}

// formatValue renders a payload value, shortening long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > maxValueRunes {
			return fmt.Sprintf("%q", string(r[:maxValueRunes])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(ev *Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.Type}
	if !noPayload {
		je.Payload = ev.Payload
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}

func printJSON(out io.Writer, root *Event, maxDepth int, noPayload bool) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSONEvent(root, 1, maxDepth, noPayload))
}
