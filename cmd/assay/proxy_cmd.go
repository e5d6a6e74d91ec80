package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
	"github.com/mindburn-labs/assay/pkg/config"
	"github.com/mindburn-labs/assay/pkg/evidence"
	"github.com/mindburn-labs/assay/pkg/mandate"
	"github.com/mindburn-labs/assay/pkg/observability"
	"github.com/mindburn-labs/assay/pkg/policy"
	"github.com/mindburn-labs/assay/pkg/proxy"
	"github.com/mindburn-labs/assay/pkg/registry"
	"github.com/mindburn-labs/assay/pkg/storage"
	"github.com/mindburn-labs/assay/pkg/trust"
)

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// runProxy wraps an upstream MCP tool server's stdio and interposes on
// tools/call per spec §4.8. Grounded on the teacher's (deleted)
// cmd/helm/proxy_cmd.go flag-parsing shape: one flag.NewFlagSet, no
// subcommand framework.
func runProxy(args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	var packRefs, packFiles stringList
	fs.Var(&packRefs, "pack", "registry pack ref name@version (repeatable)")
	fs.Var(&packFiles, "pack-file", "local policy pack JSON file (repeatable)")
	source := fs.String("source", "assay-proxy", "evidence event source identifier (spec §3 I3)")
	evidencePath := fs.String("evidence", "", "path to append evidence events as JSONL (default: <cache-dir>/evidence.jsonl)")
	dryRun := fs.Bool("dry-run", false, "compute decisions and evidence but never enforce (spec §4.8)")
	storageDSN := fs.String("storage", "", "override ASSAY_STORAGE_DSN")
	trustPath := fs.String("trust-store", "", "override ASSAY_TRUST_STORE")
	registryURL := fs.String("registry", "", "override ASSAY_REGISTRY_URL")
	cacheDir := fs.String("cache-dir", "", "override ASSAY_CACHE_DIR")
	if err := fs.Parse(args); err != nil {
		return err
	}
	upstreamArgv := fs.Args()
	if len(upstreamArgv) == 0 {
		return fmt.Errorf("proxy: missing upstream command (assay proxy [flags] -- <cmd> [args...])")
	}

	cfg := config.Load()
	if *dryRun {
		cfg.DryRun = true
	}
	if *storageDSN != "" {
		cfg.StorageDSN = *storageDSN
	}
	if *trustPath != "" {
		cfg.TrustStorePath = *trustPath
	}
	if *registryURL != "" {
		cfg.RegistryBaseURL = *registryURL
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	if *evidencePath == "" {
		*evidencePath = cfg.CacheDir + "/evidence.jsonl"
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		var err error
		provider, err = observability.New(ctx, obsCfg)
		if err != nil {
			return fmt.Errorf("proxy: start observability provider: %w", err)
		}
		defer func() { _ = provider.Shutdown(context.Background()) }()
	}

	roots, err := loadPinnedRoots(cfg.TrustStorePath)
	if err != nil {
		return err
	}
	trustStore := trust.NewStore(roots)

	store, err := storage.Open(cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("proxy: open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	regClient, err := registry.New(registry.Config{
		BaseURL:    cfg.RegistryBaseURL,
		CacheDir:   cfg.CacheDir,
		TrustStore: trustStore,
	})
	if err != nil {
		return fmt.Errorf("proxy: build registry client: %w", err)
	}

	packs, err := loadPacks(ctx, regClient, packRefs, packFiles)
	if err != nil {
		return err
	}
	compiled, err := policy.Compile(packs)
	if err != nil {
		return fmt.Errorf("proxy: compile policy: %w", err)
	}

	authorizer := mandate.NewAuthorizer(trustStore, store.Mandates)
	emitter := evidence.NewEmitter(*source)
	sink := proxy.NewJSONLSink(*evidencePath)
	receipts := store.NewReceiptStore(logger)

	upstream, err := proxy.NewSubprocessUpstream(ctx, upstreamArgv)
	if err != nil {
		return fmt.Errorf("proxy: start upstream: %w", err)
	}
	defer func() { _ = upstream.Close() }()

	p := proxy.NewProxy(proxy.Config{
		Policy:     compiled,
		Authorizer: authorizer,
		Emitter:    emitter,
		Sink:       sink,
		Receipts:   receipts,
		Upstream:   upstream,
		DryRun:     cfg.DryRun,
		Logger:     logger,
	})

	logger.Info("proxy starting", "upstream", strings.Join(upstreamArgv, " "), "dry_run", cfg.DryRun, "packs", len(packs))

	if provider != nil {
		_, done := provider.TrackOperation(ctx, "proxy.run")
		runErr := p.Run(ctx, os.Stdin, os.Stdout)
		done(runErr)
		return runErr
	}
	return p.Run(ctx, os.Stdin, os.Stdout)
}

// loadPacks resolves registry refs and local pack files into a single
// slice, local files first so an operator's overrides compile in a
// predictable, file-before-remote order.
func loadPacks(ctx context.Context, client *registry.Client, refs, files []string) ([]policy.Pack, error) {
	var packs []policy.Pack

	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pack file %s: %w", path, err)
		}
		var pack policy.Pack
		if err := canonicalize.DecodeStrict(raw, &pack); err != nil {
			return nil, fmt.Errorf("parse pack file %s: %w", path, err)
		}
		packs = append(packs, pack)
	}

	for _, spec := range refs {
		name, version, ok := strings.Cut(spec, "@")
		if !ok {
			return nil, fmt.Errorf("invalid -pack ref %q, want name@version", spec)
		}
		resolved, err := client.Resolve(ctx, registry.Ref{Name: name, Version: version})
		if err != nil {
			return nil, fmt.Errorf("resolve pack %s: %w", spec, err)
		}
		packs = append(packs, resolved.Pack)
	}

	return packs, nil
}
