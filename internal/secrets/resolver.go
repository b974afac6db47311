package secrets

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/metrics"
	"switchboard/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// Lookup sources, as reported to metrics.
const (
	SourceOverride = "override"
	SourceEnv      = "env"
	SourceVault    = "vault"
	SourceNone     = "none"
)

// Options configure a Resolver.
type Options struct {
	// OverrideFile is an optional YAML map of literal placeholder to value.
	OverrideFile string
	Vault        VaultSettings

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// InterfaceAddrs defaults to net.InterfaceAddrs.
	InterfaceAddrs func() ([]net.Addr, error)
	// VaultReader replaces the official vault client, mainly in tests.
	VaultReader VaultReader
	Metrics     metrics.Metrics
}

// Resolver turns env:KEY and vault:PATH placeholders into values, trying the
// override file, then the process environment, then the vault. It never
// fails: anything unresolvable becomes "" and a warning naming the
// placeholder. Values are never logged.
type Resolver struct {
	overrides *overrideStore
	watcher   *overrideWatcher
	lookupEnv func(string) (string, bool)
	metrics   metrics.Metrics

	vaultMount   string
	vaultAddress string
	vaultOn      bool
	vaultInit    sync.Once
	vaultReader  VaultReader
	vaultInitErr error
	vaultToken   string
	vaultTimeout time.Duration

	cacheMu    sync.RWMutex
	vaultCache map[string]map[string]interface{}
	vaultGroup singleflight.Group
}

// NewResolver creates a Resolver and loads the override file. A broken
// override file is logged and treated as empty.
func NewResolver(opts Options) *Resolver {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.InterfaceAddrs == nil {
		opts.InterfaceAddrs = net.InterfaceAddrs
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	vault := opts.Vault.withDefaults()

	r := &Resolver{
		overrides:    newOverrideStore(opts.OverrideFile),
		lookupEnv:    opts.LookupEnv,
		metrics:      opts.Metrics,
		vaultMount:   vault.Mount,
		vaultReader:  opts.VaultReader,
		vaultToken:   vault.Token,
		vaultTimeout: vault.Timeout,
		vaultCache:   make(map[string]map[string]interface{}),
	}
	r.vaultAddress, r.vaultOn = opts.Vault.Address(opts.InterfaceAddrs)

	if err := r.overrides.load(); err != nil {
		logging.Warn("Secrets", "Ignoring override file: %v", err)
	}
	if r.vaultOn {
		logging.Info("Secrets", "Vault lookups enabled against %s (mount %s)", r.vaultAddress, r.vaultMount)
	} else {
		logging.Debug("Secrets", "Vault lookups disabled")
	}
	return r
}

// Watch starts reloading the override file whenever it changes. It is a
// no-op without an override file.
func (r *Resolver) Watch() error {
	if r.overrides.path == "" {
		return nil
	}
	r.watcher = newOverrideWatcher(r.overrides, func() {
		logging.Info("Secrets", "Reloaded override file %s", r.overrides.path)
	})
	return r.watcher.start()
}

// Close stops the override watcher.
func (r *Resolver) Close() {
	if r.watcher != nil {
		r.watcher.stop()
	}
}

// Resolve returns the value for placeholder, given as "env:KEY",
// "vault:PATH" or the ${...} wrapped form.
func (r *Resolver) Resolve(ctx context.Context, placeholder string) string {
	p, ok := config.ParsePlaceholder(placeholder)
	if !ok {
		logging.Warn("Secrets", "Unsupported placeholder %q", placeholder)
		r.metrics.ObserveSecretLookup(SourceNone)
		return ""
	}
	return r.resolve(ctx, p)
}

func (r *Resolver) resolve(ctx context.Context, p config.Placeholder) string {
	key := p.String()

	if v, ok := r.overrides.lookup(key); ok {
		r.metrics.ObserveSecretLookup(SourceOverride)
		return v
	}

	envKey := key
	if p.Kind == config.KindEnv {
		envKey = p.Ref
	}
	if v, ok := r.lookupEnv(envKey); ok {
		r.metrics.ObserveSecretLookup(SourceEnv)
		return v
	}

	if p.Kind == config.KindVault {
		if v, ok := r.fromVault(ctx, p.Ref); ok {
			r.metrics.ObserveSecretLookup(SourceVault)
			return v
		}
	} else {
		logging.Warn("Secrets", "Environment variable for %s is not set", key)
	}

	r.metrics.ObserveSecretLookup(SourceNone)
	return ""
}

func (r *Resolver) fromVault(ctx context.Context, ref string) (string, bool) {
	placeholder := config.KindVault + ":" + ref
	if !r.vaultOn {
		logging.Warn("Secrets", "Vault is not enabled for this host; %s resolves to empty", placeholder)
		return "", false
	}

	path, field := splitVaultRef(ref)
	data, err := r.readVault(ctx, path)
	if err != nil {
		logging.Warn("Secrets", "Vault lookup for %s failed: %v", placeholder, err)
		return "", false
	}
	v, ok := pickField(data, field)
	if !ok {
		logging.Warn("Secrets", "Vault secret for %s has no matching field", placeholder)
		return "", false
	}
	return v, true
}

// readVault returns the secret data at path, from the process-lifetime cache
// when present. Only successful reads are cached.
func (r *Resolver) readVault(ctx context.Context, path string) (map[string]interface{}, error) {
	r.cacheMu.RLock()
	data, ok := r.vaultCache[path]
	r.cacheMu.RUnlock()
	if ok {
		return data, nil
	}

	// The read is shared: one waiter giving up must not fail the others.
	// The vault client timeout still bounds it.
	readCtx := context.WithoutCancel(ctx)
	ch := r.vaultGroup.DoChan(path, func() (interface{}, error) {
		reader, err := r.reader()
		if err != nil {
			return nil, err
		}
		data, err := reader.ReadKV(readCtx, r.vaultMount, path)
		if err != nil {
			return nil, err
		}
		r.cacheMu.Lock()
		r.vaultCache[path] = data
		r.cacheMu.Unlock()
		return data, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]interface{}), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) reader() (VaultReader, error) {
	r.vaultInit.Do(func() {
		if r.vaultReader != nil {
			return
		}
		r.vaultReader, r.vaultInitErr = NewVaultReader(r.vaultAddress, r.vaultToken, r.vaultTimeout)
	})
	if r.vaultInitErr != nil {
		return nil, r.vaultInitErr
	}
	if r.vaultReader == nil {
		return nil, errors.New("vault client unavailable")
	}
	return r.vaultReader, nil
}

// Expand substitutes every placeholder in template.
func (r *Resolver) Expand(ctx context.Context, template string) string {
	return config.Expand(template, func(p config.Placeholder) string {
		return r.resolve(ctx, p)
	})
}

// ExpandMap returns a copy of m with every value expanded. This is how a
// server's environment or header template becomes a credential set; it is
// done afresh for each connection attempt.
func (r *Resolver) ExpandMap(ctx context.Context, m map[string]string) map[string]string {
	return config.ExpandMap(m, func(p config.Placeholder) string {
		return r.resolve(ctx, p)
	})
}
