// Package platform implements the platform proxy: the boundary between
// a scheduled AWM's resource Usages and the concrete
// mechanism that enforces them on a Linux host. Setup/Map/Release/Reclaim
// mirror the lifecycle pkg/runtime.ContainerdRuntime uses around a single
// container (create -> apply resource limits -> stop -> delete), narrowed
// here to cgroup-only since the core does not itself execute workloads -
// it only maps resource grants onto the processes an external runtime
// already started.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/rs/zerolog"
)

// cpuSharesPerPE is the cgroup CPU-shares weight assigned per requested
// processing element, following the standard cores-to-shares
// convention (1024 shares == 1 core).
const cpuSharesPerPE = 1024

// cfsPeriodUs is the CFS bandwidth period, a fixed 100ms period for CPU
// quota accounting.
const cfsPeriodUs = 100000

// Proxy is the platform proxy interface: it turns a scheduled
// application's resource Usages into host-level enforcement.
type Proxy interface {
	// Setup creates whatever host-level container an application needs
	// before any resources are mapped onto it (idempotent).
	Setup(app *apps.Application) error

	// Map applies wm's resource requests as enforced limits for app,
	// replacing any limits previously mapped for it.
	Map(app *apps.Application, wm *awm.AWM) error

	// Release clears app's enforced limits without tearing down its
	// host-level container, so the next Map call starts from a clean
	// slate (used on a Reconf/Migrate transition).
	Release(app *apps.Application) error

	// Reclaim tears down app's host-level container entirely. Called
	// once an application leaves the registry for good.
	Reclaim(app *apps.Application) error
}

// CgroupProxy is the concrete Proxy backed by a Linux cgroup v1
// hierarchy, one cgroup per application under a fixed parent path.
type CgroupProxy struct {
	parent string
	logger zerolog.Logger
}

// NewCgroupProxy creates a CgroupProxy rooted at parent (e.g.
// "/bbque"), under which one cgroup per application is created.
func NewCgroupProxy(parent string) *CgroupProxy {
	if parent == "" {
		parent = "/bbque"
	}
	return &CgroupProxy{parent: parent, logger: log.WithComponent("platform")}
}

func (p *CgroupProxy) path(app *apps.Application) cgroups.Path {
	return cgroups.StaticPath(fmt.Sprintf("%s/%s", p.parent, app.ID))
}

// Setup creates app's cgroup with no limits applied (an unconstrained
// specs.LinuxResources{}), so a process can be added to it ahead of
// the first Map.
func (p *CgroupProxy) Setup(app *apps.Application) error {
	if _, err := cgroups.Load(cgroups.V1, p.path(app)); err == nil {
		return nil // already set up
	}

	if _, err := cgroups.New(cgroups.V1, p.path(app), &specs.LinuxResources{}); err != nil {
		return fmt.Errorf("platform: setup %s: %w", app.ID, err)
	}
	return nil
}

// Map applies wm's resource requests to app's cgroup. Usages must
// already be bound (non-nil Bindings) under the cluster key the
// scheduler scored wm against; Map resolves the limits from wm's
// declared Requests directly, since the cgroup enforces a static
// per-application budget independent of which descriptors backed it.
func (p *CgroupProxy) Map(app *apps.Application, wm *awm.AWM) error {
	control, err := cgroups.Load(cgroups.V1, p.path(app))
	if err != nil {
		return fmt.Errorf("platform: map %s: cgroup not set up: %w", app.ID, err)
	}

	resources := &specs.LinuxResources{}
	for _, req := range wm.Requests {
		switch resourceClass(req.Template) {
		case "pe":
			shares := uint64(req.Amount) * cpuSharesPerPE
			quota := int64(req.Amount) * cfsPeriodUs
			period := uint64(cfsPeriodUs)
			resources.CPU = &specs.LinuxCPU{Shares: &shares, Quota: &quota, Period: &period}
		case "mem":
			limit := int64(req.Amount)
			resources.Memory = &specs.LinuxMemory{Limit: &limit}
		}
	}

	if err := control.Update(resources); err != nil {
		return fmt.Errorf("platform: map %s: %w", app.ID, err)
	}
	return nil
}

// Release resets app's cgroup back to unconstrained, without deleting
// it.
func (p *CgroupProxy) Release(app *apps.Application) error {
	control, err := cgroups.Load(cgroups.V1, p.path(app))
	if err != nil {
		return fmt.Errorf("platform: release %s: %w", app.ID, err)
	}
	if err := control.Update(&specs.LinuxResources{}); err != nil {
		return fmt.Errorf("platform: release %s: %w", app.ID, err)
	}
	return nil
}

// Reclaim deletes app's cgroup entirely.
func (p *CgroupProxy) Reclaim(app *apps.Application) error {
	control, err := cgroups.Load(cgroups.V1, p.path(app))
	if err != nil {
		return nil // nothing to reclaim
	}
	if err := control.Delete(); err != nil {
		return fmt.Errorf("platform: reclaim %s: %w", app.ID, err)
	}
	return nil
}

// Transition satisfies pkg/round.Transitioner: it maps app.Next's
// resource requests onto app's cgroup and reports how long the
// enforcement call took, so the caller can feed it to the SASB latency
// check.
func (p *CgroupProxy) Transition(ctx context.Context, app *apps.Application) (time.Duration, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlatformTransitionDuration)

	if app.Next == nil {
		metrics.PlatformTransitionsTotal.WithLabelValues("noop").Inc()
		return timer.Duration(), nil
	}

	if err := p.Setup(app); err != nil {
		metrics.PlatformTransitionsTotal.WithLabelValues("setup_failed").Inc()
		return timer.Duration(), err
	}

	if err := p.Map(app, app.Next); err != nil {
		metrics.PlatformTransitionsTotal.WithLabelValues("map_failed").Inc()
		return timer.Duration(), err
	}

	metrics.PlatformTransitionsTotal.WithLabelValues("ok").Inc()
	return timer.Duration(), nil
}

// resourceClass maps a resource request template to the cgroup
// controller it feeds: any template ending in ".pe" (processing
// elements) goes to CPU, ".mem" goes to memory, anything else is
// currently left unmapped (no enforceable Linux controller for it).
func resourceClass(template string) string {
	switch {
	case len(template) >= 3 && template[len(template)-3:] == ".pe":
		return "pe"
	case len(template) >= 4 && template[len(template)-4:] == ".mem":
		return "mem"
	default:
		return ""
	}
}
