package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/crank/stream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the lifecycle events of a running worker",
	Long: `Watch connects to the event stream a worker serves with --events-addr
and prints rounds and attempts as they happen.

Example:
  crankd watch
  crankd watch --topic attempts
  crankd watch --topic queue:<hex address> --output json`,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"watch.url": "events-url",
		})
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("events-url", "http://127.0.0.1:9465/events", "event stream URL of a crankd worker")
	watchCmd.Flags().StringSlice("topic", nil, "topics to follow: rounds, attempts, queue:<hex> or firehose (default firehose)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topics, err := cmd.Flags().GetStringSlice("topic")
	if err != nil {
		return err
	}
	u, err := url.Parse(viper.GetString("watch.url"))
	if err != nil {
		return fmt.Errorf("events url: %w", err)
	}
	q := u.Query()
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return err
		}
		q.Add("topic", t)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("event stream: %s: %s", resp.Status, body)
	}

	return followEvents(ctx, resp.Body, os.Stdout, jsonOutput())
}

// followEvents copies events from r to w until r ends or ctx is done.
func followEvents(ctx context.Context, r io.Reader, w io.Writer, raw bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if raw {
			if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
				return err
			}
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if _, err := fmt.Fprintln(w, formatEvent(&evt)); err != nil {
			return err
		}
		if evt.Type == stream.EventShutdown {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func formatEvent(evt *stream.Event) string {
	ts := evt.Timestamp.Local().Format(time.TimeOnly)
	switch evt.Type {
	case stream.EventRoundStarted, stream.EventRoundCompleted:
		var d stream.RoundEventData
		if json.Unmarshal(evt.Data, &d) != nil {
			break
		}
		if evt.Type == stream.EventRoundStarted {
			return fmt.Sprintf("%s  %-16s %s queues=%d", ts, evt.Type, d.RoundID, d.Queues)
		}
		return fmt.Sprintf("%s  %-16s %s submitted=%d failed=%d skipped=%d steps=%d %dms",
			ts, evt.Type, d.RoundID, d.Submitted, d.Failed, d.Skipped, d.Steps, d.ElapsedMs)
	case stream.EventBatchSubmitted, stream.EventBatchFailed, stream.EventQueueSkipped:
		var d stream.AttemptEventData
		if json.Unmarshal(evt.Data, &d) != nil {
			break
		}
		queue := d.Queue
		if len(queue) > 8 {
			queue = queue[:8]
		}
		s := fmt.Sprintf("%s  %-16s queue=%s steps=%d size=%d", ts, evt.Type, queue, d.Steps, d.Size)
		if d.Signature != "" {
			s += " sig=" + d.Signature[:min(len(d.Signature), 16)]
		}
		if d.Reason != "" {
			s += " reason=" + d.Reason
		}
		return s
	}
	return fmt.Sprintf("%s  %s", ts, evt.Type)
}
