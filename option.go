package tabsync

import (
	"net/http"
	"time"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	"github.com/DavidKk/tabsync/devmode"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/memorystore"
	"github.com/DavidKk/tabsync/rollout"
	"github.com/DavidKk/tabsync/sandbox"
	"github.com/dogmatiq/dodeca/logging"
)

var (
	// DefaultLeaseTTL is the default duration after which an un-renewed host
	// lease is treated as abandoned.
	//
	// It is overridden by the WithLeaseTTL() option.
	DefaultLeaseTTL = 1 * time.Minute

	// DefaultPollInterval is the default interval at which dev-mode watchers
	// poll for source changes.
	//
	// It is overridden by the WithPollInterval() option.
	DefaultPollInterval = 5 * time.Second

	// DefaultExecutionLimit is the default number of artifacts that may
	// execute concurrently.
	//
	// It is overridden by the WithExecutionLimit() option.
	DefaultExecutionLimit = 1

	// DefaultLogger is the default target for log messages produced by the
	// coordinator.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// Option configures the behavior of a coordinator.
type Option func(*coordinatorOptions)

// WithTabID returns an option that sets the tab identity the coordinator
// acts for.
//
// If this option is omitted the process-wide identity is used. Overriding it
// is primarily useful for simulating several tabs within one process.
func WithTabID(id identity.TabID) Option {
	return func(opts *coordinatorOptions) {
		opts.TabID = id
	}
}

// WithStore returns an option that sets the durable store shared by all
// tabs.
//
// If this option is omitted or s is nil, a private in-memory store is used,
// which only coordinates tabs simulated within this process.
func WithStore(s persistence.Store) Option {
	return func(opts *coordinatorOptions) {
		opts.Store = s
	}
}

// WithBus returns an option that sets the ephemeral bus shared by the open
// tabs.
//
// If this option is omitted or b is nil, no bus is used; coordination
// degrades to durable store notifications alone, which is always correct but
// adds latency.
func WithBus(b bus.Bus) Option {
	return func(opts *coordinatorOptions) {
		opts.Bus = b
	}
}

// WithEvaluator returns an option that sets the runtime used to execute
// artifact bodies.
//
// An evaluator must always be provided.
func WithEvaluator(e sandbox.Evaluator) Option {
	return func(opts *coordinatorOptions) {
		opts.Evaluator = e
	}
}

// WithCapability returns an option that adds a named callable to the
// allow-list reachable from executed artifacts.
func WithCapability(name string, c sandbox.Capability) Option {
	return func(opts *coordinatorOptions) {
		if opts.Capabilities == nil {
			opts.Capabilities = map[string]sandbox.Capability{}
		}

		opts.Capabilities[name] = c
	}
}

// WithNotifier returns an option that sets the sink for user-visible status
// transitions.
//
// If this option is omitted no notifications are produced. Notifications are
// never required for correctness.
func WithNotifier(n rollout.Notifier) Option {
	return func(opts *coordinatorOptions) {
		opts.Notifier = n
	}
}

// WithActivity returns an option that sets the foreground/background state
// source used to defer disruptive dev-mode updates.
//
// If this option is omitted the tab is assumed to always be in the
// foreground.
func WithActivity(a devmode.Activity) Option {
	return func(opts *coordinatorOptions) {
		opts.Activity = a
	}
}

// WithHTTPClient returns an option that sets the HTTP client used to probe
// and download remote artifacts.
//
// If this option is omitted or c is nil, http.DefaultClient is used.
func WithHTTPClient(c *http.Client) Option {
	return func(opts *coordinatorOptions) {
		opts.HTTPClient = c
	}
}

// WithLeaseTTL returns an option that sets the duration after which an
// un-renewed host lease is treated as abandoned.
//
// If this option is omitted or d is zero, DefaultLeaseTTL is used.
func WithLeaseTTL(d time.Duration) Option {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *coordinatorOptions) {
		opts.LeaseTTL = d
	}
}

// WithPollInterval returns an option that sets the interval at which
// dev-mode watchers poll for source changes.
//
// If this option is omitted or d is zero, DefaultPollInterval is used.
func WithPollInterval(d time.Duration) Option {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *coordinatorOptions) {
		opts.PollInterval = d
	}
}

// WithExecutionLimit returns an option that sets the number of artifacts
// that may execute concurrently.
//
// If this option is omitted or n is non-positive, DefaultExecutionLimit is
// used.
func WithExecutionLimit(n int) Option {
	return func(opts *coordinatorOptions) {
		opts.ExecutionLimit = n
	}
}

// WithLogger returns an option that sets the target for log messages
// produced by the coordinator.
//
// If this option is omitted or l is nil, DefaultLogger is used.
func WithLogger(l logging.Logger) Option {
	return func(opts *coordinatorOptions) {
		opts.Logger = l
	}
}

// WithNamespace returns an option that registers a namespace with the
// coordinator.
//
// Namespaces may also be registered lazily with Coordinator.Namespace().
func WithNamespace(name string, options ...NamespaceOption) Option {
	return func(opts *coordinatorOptions) {
		nsopts := resolveNamespaceOptions(name, options...)
		opts.Namespaces = append(opts.Namespaces, nsopts)
	}
}

// NamespaceOption configures the behavior of a single namespace.
type NamespaceOption func(*namespaceOptions)

// WithSource returns a namespace option that sets the primary URL of the
// remotely hosted artifact.
func WithSource(url string) NamespaceOption {
	return func(opts *namespaceOptions) {
		opts.URL = url
	}
}

// WithFallbackSource returns a namespace option that sets an alternative
// artifact URL, probed when the primary URL is unreachable.
//
// Whether the fallback is probed at all is governed by WithFallbackProbing().
func WithFallbackSource(url string) NamespaceOption {
	return func(opts *namespaceOptions) {
		opts.FallbackURL = url
	}
}

// WithFallbackProbing returns a namespace option that enables or disables
// probing the fallback URL before declaring a rollout failed.
//
// It is enabled by default when a fallback URL is configured.
func WithFallbackProbing(enabled bool) NamespaceOption {
	return func(opts *namespaceOptions) {
		opts.ProbeFallback = &enabled
	}
}

// WithEditorSurface returns a namespace option that marks this tab as the
// namespace's authoritative editor surface.
//
// An editor surface is the only tab permitted to persist editor-produced
// artifacts, and never initiates rollouts for the namespace.
func WithEditorSurface() NamespaceOption {
	return func(opts *namespaceOptions) {
		opts.EditorSurface = true
	}
}

// WithWatchDirectory returns a namespace option that distributes artifacts
// compiled from a local directory.
//
// Only the tab that starts watching may write the namespace's distribution
// record.
func WithWatchDirectory(dir string, c artifact.Compiler) NamespaceOption {
	return func(opts *namespaceOptions) {
		opts.WatchDir = dir
		opts.Compiler = c
	}
}

// coordinatorOptions is a container for a fully-resolved set of coordinator
// options.
type coordinatorOptions struct {
	TabID          identity.TabID
	Store          persistence.Store
	Bus            bus.Bus
	Evaluator      sandbox.Evaluator
	Capabilities   map[string]sandbox.Capability
	Notifier       rollout.Notifier
	Activity       devmode.Activity
	HTTPClient     *http.Client
	LeaseTTL       time.Duration
	PollInterval   time.Duration
	ExecutionLimit int
	Logger         logging.Logger
	Namespaces     []*namespaceOptions
}

// namespaceOptions is a container for a fully-resolved set of namespace
// options.
type namespaceOptions struct {
	Name          string
	URL           string
	FallbackURL   string
	ProbeFallback *bool
	EditorSurface bool
	WatchDir      string
	Compiler      artifact.Compiler
}

// resolveOptions returns a fully-resolved set of coordinator options.
func resolveOptions(options ...Option) *coordinatorOptions {
	opts := &coordinatorOptions{}

	for _, o := range options {
		o(opts)
	}

	opts.finalize()

	return opts
}

// resolveNamespaceOptions returns a fully-resolved set of namespace options.
func resolveNamespaceOptions(name string, options ...NamespaceOption) *namespaceOptions {
	if name == "" {
		panic("namespace name must not be empty")
	}

	opts := &namespaceOptions{
		Name: name,
	}

	for _, o := range options {
		o(opts)
	}

	return opts
}

// finalize applies defaults to the resolved options.
func (opts *coordinatorOptions) finalize() {
	if opts.Evaluator == nil {
		panic("an evaluator must be provided with the WithEvaluator() option")
	}

	if opts.TabID == "" {
		opts.TabID = identity.Tab()
	}

	if opts.Store == nil {
		opts.Store = memorystore.New()
	}

	if opts.LeaseTTL == 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.ExecutionLimit <= 0 {
		opts.ExecutionLimit = DefaultExecutionLimit
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}
}
