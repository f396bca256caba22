package cli

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type loadOptions struct {
	URL          string
	Connections  int
	Duration     time.Duration
	RampUp       time.Duration
	StatusPeriod time.Duration
}

type loadStats struct {
	Connected   int64
	ConnectErrs int64
	StreamErrs  int64
	Views       int64
	Heartbeats  int64
	Elapsed     time.Duration
}

func (s loadStats) String() string {
	elapsed := s.Elapsed
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d views=%d heartbeats=%d elapsed=%s views/s=%.2f",
		s.Connected, s.ConnectErrs, s.StreamErrs, s.Views, s.Heartbeats,
		elapsed.Truncate(time.Millisecond), float64(s.Views)/elapsed.Seconds())
}

func newLoadTestCmd() *cobra.Command {
	opts := loadOptions{StatusPeriod: 5 * time.Second}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Open many view streams against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if opts.RampUp == 0 && opts.Connections > 100 {
				// 1 second per 500 connections
				opts.RampUp = max(time.Duration(opts.Connections/500)*time.Second, time.Second)
				logger.Info("using default ramp-up", zap.Duration("ramp", opts.RampUp))
			}

			stats, err := loadViewStream(ctx, opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "done: %s\n", stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080/api/view/stream", "view stream URL")
	cmd.Flags().IntVar(&opts.Connections, "conns", 1000, "number of concurrent streams")
	cmd.Flags().DurationVar(&opts.Duration, "dur", 60*time.Second, "test duration (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.RampUp, "ramp", 0, "spread stream starts across this window")
	return cmd
}

// loadViewStream holds opts.Connections streams open until ctx ends or opts.Duration passes.
func loadViewStream(ctx context.Context, opts loadOptions, logger *zap.Logger) (loadStats, error) {
	if opts.Connections <= 0 {
		return loadStats{}, errors.Errorf("invalid conns: %d", opts.Connections)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	transport := &http.Transport{
		MaxConnsPerHost:     opts.Connections + 100,
		MaxIdleConns:        opts.Connections + 100,
		MaxIdleConnsPerHost: opts.Connections + 100,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	var (
		stats loadStats
		wg    sync.WaitGroup
	)
	start := time.Now()

	var spacing time.Duration
	if opts.RampUp > 0 {
		spacing = opts.RampUp / time.Duration(opts.Connections)
	}

	if opts.StatusPeriod > 0 {
		go func() {
			ticker := time.NewTicker(opts.StatusPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logger.Info("load status",
						zap.Int64("connected", atomic.LoadInt64(&stats.Connected)),
						zap.Int64("connect_errs", atomic.LoadInt64(&stats.ConnectErrs)),
						zap.Int64("stream_errs", atomic.LoadInt64(&stats.StreamErrs)),
						zap.Int64("views", atomic.LoadInt64(&stats.Views)),
						zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
				}
			}
		}()
	}

	for i := range opts.Connections {
		if i > 0 && spacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(spacing):
			}
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			readViewStream(ctx, client, opts.URL, &stats)
		}()
	}

	wg.Wait()
	stats.Elapsed = time.Since(start)
	return stats, nil
}

func readViewStream(ctx context.Context, client *http.Client, url string, stats *loadStats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		atomic.AddInt64(&stats.ConnectErrs, 1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&stats.ConnectErrs, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&stats.ConnectErrs, 1)
		return
	}

	atomic.AddInt64(&stats.Connected, 1)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&stats.StreamErrs, 1)
			}
			return
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			atomic.AddInt64(&stats.Views, 1)
		case strings.HasPrefix(line, ":"):
			atomic.AddInt64(&stats.Heartbeats, 1)
		}
	}
}
