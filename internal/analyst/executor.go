package analyst

import (
	"context"

	"datanerd/internal/cache"
	"datanerd/internal/driver"
	"datanerd/internal/plan"
)

// Executor runs plans through the cache. Every fingerprint flows through
// single-flight, including the sub-plans of a derived metric, so two
// derived metrics sharing a base metric share its execution too.
type Executor struct {
	drv   driver.Driver
	h     driver.Handle
	cache *cache.Cache
}

// NewExecutor wires a driver handle to the shared cache.
func NewExecutor(drv driver.Driver, h driver.Handle, c *cache.Cache) *Executor {
	return &Executor{drv: drv, h: h, cache: c}
}

// Run executes the plan, consulting the cache first. The hit flag reports
// whether the top-level result was served without a driver call.
func (e *Executor) Run(ctx context.Context, p *plan.Plan) (*driver.Result, bool, error) {
	return e.cache.GetOrCompute(ctx, p.Fingerprint, p.Metric.Name, func(ctx context.Context) (*driver.Result, error) {
		if p.Derived() {
			return driver.ExecuteDerived(ctx, p, func(ctx context.Context, sub *plan.Plan) (*driver.Result, error) {
				r, _, err := e.Run(ctx, sub)
				return r, err
			})
		}
		return driver.Run(ctx, e.drv, e.h, p.Query)
	})
}
