package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/client"
	"github.com/Sternrassler/go-parallel-requests/pkg/config"
	"github.com/Sternrassler/go-parallel-requests/pkg/logging"
	"github.com/Sternrassler/go-parallel-requests/pkg/metrics"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	prefix     string

	backend     string
	concurrency int
	maxRetries  int
	rateLimit   float64
	burst       int
	timeout     time.Duration
	insecure    bool
	noRedirects bool
	noHTTP2     bool

	method     string
	returnType string
	keys       []string
	headers    []string
	params     []string
	data       string
	degrade    bool

	metricsAddr string
	debug       bool
	verbose     bool
	pretty      bool
}

func newRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "parreq [flags] URL...",
		Short: "Fetch URLs in parallel with rate limiting and retries",
		Long: `parreq sends one request per URL through a shared client with a
concurrency cap, a token-bucket rate limit, exponential backoff retries,
user-agent rotation and optional proxy rotation. Results are printed as
JSON in input order, or as an object when keys are given.

Defaults come from PARALLEL_* environment variables and an optional
config file; flags override both.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, o, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&o.prefix, "env-prefix", config.DefaultPrefix, "environment variable prefix")

	f := cmd.Flags()
	f.StringVar(&o.backend, "backend", "", "backend: auto, nethttp or colly")
	f.IntVarP(&o.concurrency, "concurrency", "c", 0, "maximum requests in flight")
	f.IntVar(&o.maxRetries, "max-retries", 0, "retries per request")
	f.Float64Var(&o.rateLimit, "rate-limit", 0, "requests per second (0 = unlimited)")
	f.IntVar(&o.burst, "burst", 0, "rate limit burst")
	f.DurationVar(&o.timeout, "timeout", 0, "per-request timeout")
	f.BoolVarP(&o.insecure, "insecure", "k", false, "skip TLS certificate verification")
	f.BoolVar(&o.noRedirects, "no-redirects", false, "do not follow redirects")
	f.BoolVar(&o.noHTTP2, "no-http2", false, "disable HTTP/2")

	f.StringVarP(&o.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&o.returnType, "return-type", "r", string(client.ReturnJSON), "json, text, content or response")
	f.StringSliceVar(&o.keys, "key", nil, "result key per URL (repeatable, in URL order)")
	f.StringArrayVarP(&o.headers, "header", "H", nil, `request header "Name: value" (repeatable)`)
	f.StringArrayVarP(&o.params, "param", "p", nil, "query parameter name=value (repeatable)")
	f.StringVarP(&o.data, "data", "d", "", "request body")
	f.BoolVar(&o.degrade, "null-on-failure", false, "print null for failed items instead of failing")

	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address while running")
	pf.BoolVar(&o.debug, "debug", false, "debug logging")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "info logging")
	pf.BoolVar(&o.pretty, "pretty-logs", false, "console log output")

	cmd.AddCommand(newEnvCmd(o))

	return cmd
}

func newEnvCmd(o *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print or save the effective configuration as environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gc, err := config.LoadWithPrefix(o.configFile, o.prefix)
			if err != nil {
				return err
			}
			if output != "" {
				if err := gc.SaveToEnv(output, o.prefix); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
				return nil
			}
			for _, line := range envLines(gc.ToEnv(o.prefix)) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a .env file instead of stdout")
	return cmd
}

func runBatch(cmd *cobra.Command, o *options, urls []string) error {
	logCfg := logging.FromFlags(o.debug, o.verbose)
	logCfg.Pretty = o.pretty
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.Setup(logCfg)

	cfg, closer, err := o.clientConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg.Logger = &logger

	opts, err := o.requestOptions()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if o.metricsAddr != "" {
		stop, err := serveMetrics(o.metricsAddr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	res, runErr := client.Run(ctx, cfg, urls, opts)
	if res == nil {
		return runErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Value()); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var pf *reqerr.PartialFailureError
	if errors.As(runErr, &pf) {
		return fmt.Errorf("%s (failed: %s)", pf.Message, strings.Join(pf.FailedKeys(), ", "))
	}
	return runErr
}

// clientConfig loads environment defaults and applies the flags the user set.
// The closer releases the cache connection and is nil on error.
func (o *options) clientConfig(cmd *cobra.Command) (client.Config, io.Closer, error) {
	gc, err := config.LoadWithPrefix(o.configFile, o.prefix)
	if err != nil {
		return client.Config{}, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		gc.Backend = o.backend
	}
	if flags.Changed("concurrency") {
		gc.Concurrency = o.concurrency
	}
	if flags.Changed("max-retries") {
		gc.MaxRetries = o.maxRetries
	}
	if flags.Changed("rate-limit") {
		gc.RateLimit = o.rateLimit
	}
	if flags.Changed("burst") {
		gc.RateLimitBurst = o.burst
	}
	if o.noHTTP2 {
		gc.HTTP2 = false
	}

	cfg, closer, err := gc.ClientConfig()
	if err != nil {
		return client.Config{}, nil, err
	}
	cfg.Timeout = o.timeout
	cfg.VerifySSL = !o.insecure
	cfg.FollowRedirects = !o.noRedirects
	cfg.ReturnNoneOnFailure = o.degrade
	if err := cfg.Validate(); err != nil {
		_ = closer.Close()
		return client.Config{}, nil, err
	}
	return cfg, closer, nil
}

func (o *options) requestOptions() (client.Options, error) {
	opts := client.Options{
		Method:     strings.ToUpper(o.method),
		ReturnType: client.ReturnType(o.returnType),
		Keys:       o.keys,
	}
	if opts.ReturnType == client.ReturnStream {
		return opts, reqerr.NewConfigurationError("return_type", "stream is not available from the command line")
	}
	if o.data != "" {
		opts.Data = []byte(o.data)
	}

	if len(o.headers) > 0 {
		opts.Headers = make(map[string]string, len(o.headers))
		for _, h := range o.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return opts, reqerr.NewValidationError("header", "expected \"Name: value\", got %q", h)
			}
			opts.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	if len(o.params) > 0 {
		opts.Params = url.Values{}
		for _, p := range o.params {
			name, value, ok := strings.Cut(p, "=")
			if !ok {
				return opts, reqerr.NewValidationError("param", "expected name=value, got %q", p)
			}
			opts.Params.Add(name, value)
		}
	}
	return opts, nil
}

func serveMetrics(addr string, logger zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func envLines(env map[string]string) []string {
	lines := make([]string, 0, len(env))
	for k, v := range env {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	return lines
}
