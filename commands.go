package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/reviewengine/internal/excel"
	"github.com/example/reviewengine/internal/review"
	"github.com/example/reviewengine/internal/scheduler"
	"github.com/example/reviewengine/pkg/models"
)

var errUsage = errors.New("wrong number of arguments")

func parseLimit(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: %w", args[i], err)
	}
	return n, nil
}

func (a *app) cmdDue(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("due <learner> [limit]: %w", errUsage)
	}
	limit, err := parseLimit(args, 1)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	states, err := a.engine.DueItems(ctx, args[0], limit, now)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("Nothing is due.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tSTATE\tDUE\tINTERVAL\tEASE\tLAPSES")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%d\n",
			s.ItemID, s.State, s.DueAt.Format(time.RFC3339), s.IntervalDays, s.EaseFactor, s.LapseCount)
	}
	return w.Flush()
}

func (a *app) cmdEnroll(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("enroll <learner> <item>...: %w", errUsage)
	}
	if err := a.engine.Enroll(ctx, args[0], time.Now().UTC(), args[1:]...); err != nil {
		return err
	}
	fmt.Printf("Enrolled %d item(s) for %s\n", len(args)-1, args[0])
	return nil
}

func (a *app) cmdImport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("import <file>: %w", errUsage)
	}
	cfg := excel.DefaultImportConfig()
	cfg.FilePath = args[0]

	res, err := excel.ImportEnrollments(ctx, cfg, a.engine, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		a.log.Warn().Str("file", cfg.FilePath).Msg(e)
	}
	fmt.Printf("Processed %d row(s): %d enrolled, %d skipped, %d failed\n",
		res.TotalProcessed, res.Enrolled, res.Skipped, len(res.Errors))
	return nil
}

func (a *app) cmdTombstone(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("tombstone <item>: %w", errUsage)
	}
	n, err := a.engine.Tombstone(ctx, args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("Tombstoned %s for %d learner(s)\n", args[0], n)
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("export <learner> <file>: %w", errUsage)
	}
	states, err := a.store.ListByLearner(ctx, args[0])
	if err != nil {
		return err
	}
	logs, err := a.store.ReviewLogs(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := excel.ExportReviews(args[1], states, logs)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d state(s) and %d review(s) to %s\n", res.StateRows, res.HistoryRows, res.Path)
	return nil
}

func (a *app) cmdReview(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("review <learner> [limit]: %w", errUsage)
	}
	limit, err := parseLimit(args, 1)
	if err != nil {
		return err
	}

	sweeper := scheduler.New(a.engine, a.cfg.SweepInterval, a.log)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	sess, err := a.engine.StartSession(ctx, args[0], limit, time.Now().UTC())
	if errors.Is(err, review.ErrNoDueItems) {
		fmt.Println("Nothing is due.")
		return nil
	}
	if err != nil {
		return err
	}

	err = runSession(ctx, a.engine, sess, os.Stdin, os.Stdout)

	summary, endErr := a.engine.EndSession(ctx, sess.SessionID)
	if endErr == nil {
		fmt.Printf("\nReviewed %d of %d, %d correct.\n", summary.CompletedCount, summary.TotalCount, summary.CorrectCount)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type inputLine struct {
	text string
	err  error
}

// runSession walks the batch, reading one grade per item from in. It returns
// when the batch is done, input ends or ctx is cancelled.
func runSession(ctx context.Context, engine *review.Engine, sess models.ReviewSession, in io.Reader, out io.Writer) error {
	lines := make(chan inputLine)
	done := make(chan struct{})
	defer close(done)
	go func() {
		send := func(l inputLine) bool {
			select {
			case lines <- l:
				return true
			case <-done:
				return false
			}
		}
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if !send(inputLine{text: sc.Text()}) {
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		send(inputLine{err: err})
	}()

	fmt.Fprintf(out, "Session %s: %d item(s). Grade 0=again 1=hard 2=good 3=easy, q to stop.\n", sess.SessionID, len(sess.Batch))
	for i, item := range sess.Batch {
		for {
			fmt.Fprintf(out, "[%d/%d] %s > ", i+1, len(sess.Batch), item)

			var line inputLine
			select {
			case <-ctx.Done():
				return ctx.Err()
			case line = <-lines:
			}
			if line.err != nil {
				return line.err
			}

			text := strings.TrimSpace(line.text)
			if text == "q" || text == "quit" {
				return nil
			}
			grade, err := models.ParseGrade(text)
			if err != nil {
				fmt.Fprintf(out, "  %v\n", err)
				continue
			}

			state, err := engine.GradeItem(ctx, sess.SessionID, item, grade, time.Now().UTC())
			if errors.Is(err, review.ErrTombstoned) {
				fmt.Fprintln(out, "  item was removed, skipping")
				break
			}
			if errors.Is(err, review.ErrSessionNotFound) {
				return fmt.Errorf("session expired: %w", err)
			}
			if err != nil {
				if review.IsCallerError(err) {
					fmt.Fprintf(out, "  %v\n", err)
					continue
				}
				return err
			}
			res := models.GradeResultOf(state)
			fmt.Fprintf(out, "  %s, next review %s\n", res.NewState, res.NewDueAt.Local().Format("2006-01-02"))
			break
		}
	}
	return nil
}
