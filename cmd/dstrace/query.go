package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	dstrace "github.com/kroma-labs/dstrace/sql"
)

// queryKeywords start statements that return rows.
var queryKeywords = []string{"SELECT", "WITH", "VALUES", "SHOW", "EXPLAIN", "PRAGMA", "DESCRIBE"}

func newQueryCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "query <statement>...",
		Short: "Run statements and print their span tree",
		Long: `Run each statement in order on one connection, print the rows of
statements that return rows, then print the recorded span tree.`,
		Example: `  dstrace query "CREATE TABLE t (n INTEGER)" "INSERT INTO t VALUES (1)" "SELECT n FROM t"
  DSTRACE_DRIVER=postgres DSTRACE_DSN=postgres://localhost/app dstrace query "SELECT now()"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(v, *cfgFile)
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), cfg, args, cmd.OutOrStdout(), cmd.ErrOrStderr(), quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print result rows")

	return cmd
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func runQuery(ctx context.Context, cfg *Config, statements []string, out, errOut io.Writer, quiet bool) error {
	logger := newLogger(errOut, cfg.Log.Level)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	opts := append(cfg.Options(), dstrace.WithTracerProvider(tp), dstrace.WithLogger(logger))
	db, err := openTraced(cfg.Driver, cfg.DSN, opts...)
	if err != nil {
		return err
	}
	// In-memory databases live and die with their connection.
	db.SetMaxOpenConns(1)

	runErr := runStatements(ctx, db, statements, out, logger, quiet)
	if err := db.Close(); err != nil {
		logger.Warn().Err(err).Msg("close database")
	}

	if stats, ok := dstrace.StatsOf(db); ok && stats.Total() != 0 {
		logger.Warn().
			Int64("connections", stats.Connections).
			Int64("statements", stats.Statements).
			Int64("rows", stats.Rows).
			Msg("resources still tracked after close")
	}

	spans := exporter.GetSpans()
	logger.Debug().Int("spans", len(spans)).Msg("trace recorded")
	fmt.Fprintln(out)
	printSpanTree(out, spans)

	return runErr
}

func runStatements(ctx context.Context, db *sql.DB, statements []string, out io.Writer, logger zerolog.Logger, quiet bool) error {
	for _, stmt := range statements {
		if !returnsRows(stmt) {
			res, err := db.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
			n, err := res.RowsAffected()
			if err == nil {
				logger.Info().Str("statement", stmt).Int64("rows_affected", n).Msg("executed")
			}
			continue
		}

		rows, err := db.QueryContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("query %q: %w", stmt, err)
		}
		w := out
		if quiet {
			w = io.Discard
		}
		n, err := printRows(w, rows)
		if err != nil {
			return fmt.Errorf("read %q: %w", stmt, err)
		}
		logger.Info().Str("statement", stmt).Int("rows", n).Msg("queried")
	}
	return nil
}

func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, kw := range queryKeywords {
		if first == kw {
			return true
		}
	}
	return false
}

// printRows writes rows as a tab-aligned table and closes them.
func printRows(w io.Writer, rows *sql.Rows) (int, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		cells := make([]string, len(values))
		for i, val := range values {
			cells[i] = formatValue(val)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	return n, tw.Flush()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

