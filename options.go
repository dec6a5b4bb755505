package kernel

// kernelOptions holds the resolved configuration for a Scheduler.
type kernelOptions struct {
	recordBacktraces               bool
	checkInvariants                bool
	detectInvalidAccessFromThread  bool
	maxNumJobsPerPriorityPerCycle  int
	timingWheelConfig              TimingWheelConfig
	metricsEnabled                 bool
	logger                         Logger
}

// KernelOption configures a Scheduler instance, following eventloop's
// LoopOption pattern (options.go): a small interface wrapping a closure over
// the unexported options struct, so new options can be added without
// breaking callers of NewScheduler.
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

type kernelOptionFunc struct {
	fn func(*kernelOptions) error
}

func (o *kernelOptionFunc) applyKernel(opts *kernelOptions) error { return o.fn(opts) }

// WithRecordBacktraces enables capturing the goroutine's stack when a panic
// is recovered, into UserRaised.Stack. Disabled by default. Execution
// contexts do not record call-site history either way.
func WithRecordBacktraces(enabled bool) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.recordBacktraces = enabled
		return nil
	}}
}

// WithCheckInvariants enables consistency checks (each job FIFO's cached
// length against its list, the timing wheel's alarm count against its
// buckets) at the end of every cycle. Intended for
// development and tests, not production use.
func WithCheckInvariants(enabled bool) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.checkInvariants = enabled
		return nil
	}}
}

// WithDetectInvalidAccessFromThread enables a panic when RunCycle, or an
// Ivar's Fill, FillIfEmpty or Upon, is called from a goroutine other than the
// owner: the first goroutine to make one of those calls. Other operations
// are not checked directly.
func WithDetectInvalidAccessFromThread(enabled bool) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.detectInvalidAccessFromThread = enabled
		return nil
	}}
}

// WithMaxJobsPerPriorityPerCycle sets the fairness cap applied independently
// to the normal and low-priority bands each cycle. Defaults to 500.
func WithMaxJobsPerPriorityPerCycle(n int) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.maxNumJobsPerPriorityPerCycle = n
		return nil
	}}
}

// WithTimingWheelConfig overrides the default hierarchical wheel shape.
func WithTimingWheelConfig(cfg TimingWheelConfig) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.timingWheelConfig = cfg
		return nil
	}}
}

// WithMetrics enables the Scheduler's runtime metrics (queue depths, cycles,
// jobs and timers run, pending alarms); see Scheduler.Metrics, following eventloop's own
// WithMetrics option.
func WithMetrics(enabled bool) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger scopes a Logger to one Scheduler instance, overriding the
// package-level default installed by SetDefaultLogger.
func WithLogger(logger Logger) KernelOption {
	return &kernelOptionFunc{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveKernelOptions applies a slice of KernelOption to a fresh
// kernelOptions, seeded with the documented defaults.
func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		maxNumJobsPerPriorityPerCycle: 500,
		timingWheelConfig:             DefaultTimingWheelConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg, nil
}
