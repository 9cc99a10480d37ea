// Command event-tree prints the journal of a slavik run as a tree.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/stupiduntilnot/slavik/internal/db"
)

type options struct {
	dbPath    string
	eventID   int64
	chatID    int64
	maxDepth  int
	jsonOut   bool
	stats     bool
	noPayload bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dbPath, "db", envOrDefault("SLAVIK_DB_PATH", "./slavik.db"), "SQLite database path")
	flag.Int64Var(&opts.eventID, "id", 0, "show subtree of a specific event ID")
	flag.Int64Var(&opts.chatID, "chat", 0, "only show messages of this chat")
	flag.IntVarP(&opts.maxDepth, "level", "L", 0, "limit display depth (0 = unlimited)")
	flag.BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	flag.BoolVar(&opts.stats, "stats", false, "print per-chat counters instead of the tree")
	flag.BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	flag.Parse()

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "event-tree: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, opts options) error {
	database, err := sql.Open("sqlite3", opts.dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	rootID := opts.eventID
	if rootID == 0 {
		if rootID, err = db.LatestProcessRoot(database); err != nil {
			return err
		}
	}

	root, err := loadTree(database, rootID)
	if err != nil {
		return err
	}
	if opts.chatID != 0 {
		root = filterChat(root, opts.chatID)
	}

	switch {
	case opts.stats:
		return printStats(out, summarize(root))
	case opts.jsonOut:
		return printJSON(out, root, opts.maxDepth, opts.noPayload)
	default:
		printTree(out, root, "", true, 1, opts.maxDepth, opts.noPayload)
		return nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
