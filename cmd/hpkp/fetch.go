// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
	"github.com/jeremyhahn/go-hpkp/pkg/preload"
	"github.com/jeremyhahn/go-hpkp/pkg/redisstore"
)

const (
	defaultFetchTimeout = 15 * time.Second
	redisPingTimeout    = 2 * time.Second
	maxResponseSize     = 1 << 20
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Request a URL through the pinning transport",
	Long: `Send GET requests to an HTTPS URL through the trust-on-first-use pinning
transport and print the pinning state of the host after each request.

The first response carrying a valid Public-Key-Pins header whose pins match
the served chain pins the host. Later responses must present a key from the
noted pin set or the request fails.

Pins are kept in memory for the duration of the command, or in Redis when
--redis-addr is set so that they persist across runs. --preload seeds the
store from a YAML file before the first request.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("url", "", "HTTPS URL to fetch (required)")
	fetchCmd.Flags().Int("count", 1, "number of requests to send")
	fetchCmd.Flags().String("ca-file", "", "PEM file with additional trusted CA certificates")
	fetchCmd.Flags().String("preload", "", "preload YAML file (use 'default' for "+preload.DefaultPath()+")")
	fetchCmd.Flags().String("redis-addr", "", "Redis address for a shared pin store")
	fetchCmd.Flags().String("redis-prefix", redisstore.DefaultKeyPrefix, "Redis key prefix")
	fetchCmd.Flags().Duration("timeout", defaultFetchTimeout, "overall timeout")
	addResolverFlags(fetchCmd.Flags())
}

// fetchResult is the outcome of one request.
type fetchResult struct {
	Request   int       `json:"request"`
	Status    int       `json:"status,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
	Pinned    bool      `json:"pinned"`
	Pins      []string  `json:"pins,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	rawURL, _ := cmd.Flags().GetString("url")
	count, _ := cmd.Flags().GetInt("count")
	caFile, _ := cmd.Flags().GetString("ca-file")
	preloadPath, _ := cmd.Flags().GetString("preload")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	redisPrefix, _ := cmd.Flags().GetString("redis-prefix")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if rawURL == "" {
		return fmt.Errorf("%w: --url is required", ErrInvalidInput)
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme != "https" || target.Host == "" {
		return fmt.Errorf("%w: --url must be an https URL", ErrInvalidInput)
	}
	if count < 1 {
		return fmt.Errorf("%w: --count must be positive", ErrInvalidInput)
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()
	ctx, cancel := context.WithTimeout(sigCtx, timeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, redisAddr, redisPrefix)
	if err != nil {
		return err
	}
	defer closeStore()

	if preloadPath != "" {
		if err := applyPreload(ctx, cmd, store, preloadPath); err != nil {
			return err
		}
	}

	reporter := hpkp.NewHTTPReporter(&hpkp.ReporterConfig{Logger: slog.Default()})
	defer reporter.Close()

	enforcer, err := hpkp.NewEnforcer(&hpkp.EnforcerConfig{
		Store:    store,
		Reporter: reporter,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	base, err := baseTransport(caFile)
	if err != nil {
		return err
	}
	client := &http.Client{Transport: hpkp.NewTransport(base, enforcer)}
	defer client.CloseIdleConnections()

	host := hpkp.CanonicalHost(target.Hostname())
	results := make([]fetchResult, 0, count)
	var fetchErr error
	for i := 1; i <= count && fetchErr == nil; i++ {
		res := fetchResult{Request: i}
		res.Status, res.Bytes, fetchErr = fetchOnce(ctx, client, target.String())
		if fetchErr != nil {
			res.Error = fetchErr.Error()
		}
		if p, err := store.FindPinningInformation(ctx, host); err == nil {
			res.Pinned = true
			res.Pins = p.Pins()
			res.ExpiresAt = p.ExpiresAt().UTC()
		}
		slog.Info("request complete", "request", i, "status", res.Status, "pinned", res.Pinned)
		results = append(results, res)
	}

	if err := writeResults(results); err != nil {
		return err
	}
	return fetchErr
}

func fetchOnce(ctx context.Context, client *http.Client, target string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	resp, err := client.Do(req) // #nosec G704 -- URL is operator-provided
	if err != nil {
		if errors.Is(err, hpkp.ErrPinningFailed) || errors.Is(err, hpkp.ErrInvalidArgument) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, int(n), fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return resp.StatusCode, int(n), nil
}

// openStore returns the Redis store when addr is set, otherwise an
// in-memory store.
func openStore(ctx context.Context, addr, prefix string) (hpkp.Store, func(), error) {
	if addr == "" {
		return hpkp.NewMemoryStore(&hpkp.StoreConfig{Logger: slog.Default()}), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, addr, err)
	}

	store, err := redisstore.New(&redisstore.Config{
		Client:    client,
		KeyPrefix: prefix,
		Logger:    slog.Default(),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}

func applyPreload(ctx context.Context, cmd *cobra.Command, store hpkp.Store, path string) error {
	if path == "default" {
		path = preload.DefaultPath()
	}
	f, err := preload.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrFileOperation, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var resolver preload.PinResolver
	for _, e := range f.Hosts {
		if e.DANE {
			r, err := newResolverFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			resolver = r
			break
		}
	}

	n, err := f.Apply(ctx, store, hpkp.SystemClock, resolver)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	slog.Info("preloaded pins", "path", path, "hosts", n)
	return nil
}

// baseTransport clones http.DefaultTransport, adding the CA certificates of
// caFile to the system roots.
func baseTransport(caFile string) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caFile == "" {
		return tr, nil
	}

	data, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileOperation, caFile, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidInput, caFile)
	}
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
	return tr, nil
}

func writeResults(results []fetchResult) error {
	if jsonOutput() {
		return writeJSON(results)
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "request %d: ", r.Request)
		if r.Error != "" {
			fmt.Fprintf(&b, "error: %s", r.Error)
		} else {
			fmt.Fprintf(&b, "HTTP %d, %d bytes", r.Status, r.Bytes)
		}
		if r.Pinned {
			fmt.Fprintf(&b, "; pinned until %s (%s)", r.ExpiresAt.Format(time.RFC3339), strings.Join(r.Pins, ", "))
		} else {
			b.WriteString("; not pinned")
		}
		b.WriteString("\n")
	}
	return writeOutput([]byte(b.String()))
}
