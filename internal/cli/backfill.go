package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Backfill chunking and filtering.
const (
	backfillChunkSize     = 2000
	backfillOverlap       = 200
	backfillMinChars      = 100
	backfillMinAssistant  = 15
	backfillSessionPrefix = "backfill-"
)

func newBackfillCmd() *cobra.Command {
	var (
		dbPath string
		only   []string
		pf     pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest historical conversations from a CCC sessions database",
		Long: `Read every conversation from a CCC sqlite database (table messages with
columns id, session, role, content, channel), rebuild it as a User:/Assistant:
transcript and run it through the extraction pipeline under the session
backfill-<name>. Conversations shorter than 100 characters are skipped.

Example:
  memory-agent backfill --db ~/.ccc/sessions.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dbPath == "" {
				home, _ := os.UserHomeDir()
				dbPath = filepath.Join(home, ".ccc", "sessions.db")
			}
			src, err := openCCC(dbPath)
			if err != nil {
				return err
			}
			defer src.Close()

			sessions, err := cccSessions(ctx, src)
			if err != nil {
				return err
			}
			sessions = filterSessions(sessions, only)
			if len(sessions) == 0 {
				fmt.Println("No conversations to backfill.")
				return nil
			}

			var msgs, chars int64
			for _, s := range sessions {
				fmt.Printf("  %s: %d messages, %d chars\n", s.name, s.messages, s.chars)
				msgs += s.messages
				chars += s.chars
			}
			fmt.Printf("  Total: %d messages, %d chars\n\n", msgs, chars)

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}

			bar := newProgress(os.Stderr, len(sessions), "Backfilling")
			res := backfill(ctx, src, pipe, sessions, bar)
			_ = bar.Finish()

			st := pipe.Stats()
			fmt.Printf("Conversations: %d ingested, %d skipped, %d failed\n", res.ingested, res.skipped, len(res.failed))
			fmt.Printf("Chunks: %d (%d passed gate)\n", st.ChunksProcessed, st.ChunksPassedGate)
			fmt.Printf("Stored: %d  Deduped: %d  Updated: %d\n", st.MemoriesStored, st.MemoriesDeduped, st.MemoriesUpdated)
			if n, err := a.store.Count(ctx); err == nil {
				fmt.Printf("Total memories: %d\n", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "CCC sessions database (default ~/.ccc/sessions.db)")
	cmd.Flags().StringSliceVar(&only, "sessions", nil, "only backfill these conversations")
	addPipelineFlags(cmd, &pf)
	return cmd
}

func openCCC(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sessions database: %w", err)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}

type cccSession struct {
	name     string
	messages int64
	chars    int64
}

type cccMessage struct {
	id      int64
	role    string
	content string
	channel string
}

// cccSessions lists conversations, largest first.
func cccSessions(ctx context.Context, conn *sql.DB) ([]cccSession, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT session, COUNT(*), COALESCE(SUM(LENGTH(content)), 0)
		FROM messages
		GROUP BY session
		ORDER BY COUNT(*) DESC, session`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []cccSession
	for rows.Next() {
		var s cccSession
		if err := rows.Scan(&s.name, &s.messages, &s.chars); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func cccMessages(ctx context.Context, conn *sql.DB, session string) ([]cccMessage, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, role, COALESCE(content, ''), COALESCE(channel, '')
		FROM messages
		WHERE session = ?
		ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", session, err)
	}
	defer rows.Close()

	var out []cccMessage
	for rows.Next() {
		var m cccMessage
		if err := rows.Scan(&m.id, &m.role, &m.content, &m.channel); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func filterSessions(sessions []cccSession, only []string) []cccSession {
	if len(only) == 0 {
		return sessions
	}
	keep := make(map[string]bool, len(only))
	for _, s := range only {
		keep[s] = true
	}
	var out []cccSession
	for _, s := range sessions {
		if keep[s.name] {
			out = append(out, s)
		}
	}
	return out
}

// formatBackfill renders messages as a transcript. System messages, empty
// ones and assistant fragments under 15 characters are dropped.
func formatBackfill(msgs []cccMessage) string {
	var lines []string
	for _, m := range msgs {
		content := strings.TrimSpace(m.content)
		if content == "" {
			continue
		}
		switch m.role {
		case "user":
			lines = append(lines, "User: "+content)
		case "assistant":
			if len([]rune(content)) < backfillMinAssistant {
				continue
			}
			lines = append(lines, "Assistant: "+content)
		}
	}
	return strings.Join(lines, "\n\n")
}

type backfillResult struct {
	ingested int
	skipped  int
	failed   []string
}

// backfill ingests each session in turn. A failing session is recorded and
// the rest continue.
func backfill(ctx context.Context, conn *sql.DB, proc conversationProcessor, sessions []cccSession, bar *progressbar.ProgressBar) backfillResult {
	var res backfillResult
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		err := backfillSession(ctx, conn, proc, s.name, &res)
		if err != nil {
			logger.Warn("backfill failed", "session", backfillSessionPrefix+s.name, "stage", "ingest", "err", err)
			res.failed = append(res.failed, s.name)
		}
		_ = bar.Add(1)
	}
	return res
}

func backfillSession(ctx context.Context, conn *sql.DB, proc conversationProcessor, name string, res *backfillResult) error {
	msgs, err := cccMessages(ctx, conn, name)
	if err != nil {
		return err
	}
	text := formatBackfill(msgs)
	if len(text) < backfillMinChars {
		res.skipped++
		return nil
	}
	ids, err := proc.ProcessConversation(ctx, text, backfillSessionPrefix+name, backfillChunkSize, backfillOverlap)
	if err != nil {
		return err
	}
	logger.Debug("backfilled", "session", backfillSessionPrefix+name, "chars", len(text), "stored", len(ids))
	res.ingested++
	return nil
}
