package orchestrator

import (
	"context"
	"time"

	"github.com/willibrandon/pgarman/catalog"
)

// guard implements the "scoped acquisition, disarm on success" cleanup
// strategy Design Notes calls for: armed as soon as the catalog lock is
// held, it runs unconditionally on any return from Run that didn't reach
// the final disarm call, whether that return is a normal error or a
// panic unwinding past the deferred call. This is the crash-cleanup
// handler §4.7 step 5 installs and §7 requires to be idempotent.
type guard struct {
	o     *Orchestrator
	armed bool
}

func (g *guard) arm() { g.armed = true }

func (g *guard) disarm() { g.armed = false }

// run is deferred once, at the top of Run. It is safe to call whether or
// not arm was ever called, and safe to call more than once.
func (g *guard) run() {
	if !g.armed {
		return
	}
	g.armed = false
	o := g.o

	if o.labelPresent {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, _ = o.driver.StopBackup(ctx)
		cancel()
		o.labelPresent = false
	}

	if o.record != nil && o.record.Status == catalog.StatusRunning {
		o.record.Status = catalog.StatusError
		o.record.EndTime = time.Now()
		if o.cat != nil {
			_ = o.cat.WriteManifest(o.record)
		}
		if o.mon != nil {
			o.mon.Finish("error")
		}
	}

	if o.lock != nil {
		_ = o.lock.Release()
		o.lock = nil
	}
}
