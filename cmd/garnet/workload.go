package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/garnet/vm"
)

// Call-site IDs used by the workload.
const (
	siteArea = iota + 1
	siteScale
	siteDescribe
	siteMissing
)

// workload drives every part of the runtime core: polymorphic dispatch over
// a set of shape classes, a cached global variable that a writer keeps
// changing, and a bounded queue between the dispatching threads and a
// consumer.
type workload struct {
	vm         *vm.VM
	threads    int
	iterations int
	shapes     int
	queueSize  int
}

func (w *workload) defineClasses() []*vm.Class {
	ct := w.vm.Classes
	classes := make([]*vm.Class, 0, w.shapes)
	for i := 0; i < w.shapes; i++ {
		side := int64(i + 1)
		c := ct.Define(fmt.Sprintf("Shape%d", i), nil)
		c.AddMethod0("area", func(recv vm.Value) (vm.Value, error) {
			return side * side, nil
		})
		classes = append(classes, c)
	}
	ct.Integer.AddMethod1("scale", func(recv vm.Value, by vm.Value) (vm.Value, error) {
		return recv.(int64) * by.(int64), nil
	})
	ct.Object.AddMethod0("describe", func(recv vm.Value) (vm.Value, error) {
		return w.vm.Classes.ClassOf(recv).Name, nil
	})
	return classes
}

func (w *workload) run(ctx context.Context) (int64, error) {
	if w.shapes < 1 {
		return 0, fmt.Errorf("need at least one shape class, got %d", w.shapes)
	}
	classes := w.defineClasses()
	objects := make([]*vm.Object, len(classes))
	for i, c := range classes {
		objects[i] = vm.NewObject(c)
		objects[i].InstVarAtPut("@id", int64(i))
	}

	scale, err := w.vm.Globals.Define("$scale", int64(1))
	if err != nil {
		return 0, err
	}
	results, err := vm.NewSizedQueue(w.queueSize)
	if err != nil {
		return 0, err
	}

	var consumed int64
	consumer := vm.Go(ctx, "consumer", func(t *vm.Thread) (vm.Value, error) {
		for {
			item, err := results.Take(t.Context())
			if errors.Is(err, vm.ErrQueueClosed) {
				return consumed, nil
			}
			if err != nil {
				return nil, err
			}
			consumed += item.(int64)
		}
	})

	writer := vm.Go(ctx, "writer", func(t *vm.Thread) (vm.Value, error) {
		for i := int64(2); ; i++ {
			if _, err := t.Sleep(time.Millisecond); err != nil {
				return nil, nil
			}
			if err := scale.Write(i%3 + 1); err != nil {
				return nil, err
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	for n := 0; n < w.threads; n++ {
		th := vm.Go(gctx, fmt.Sprintf("worker-%d", n), func(t *vm.Thread) (vm.Value, error) {
			return nil, w.work(t, objects, results)
		})
		g.Go(func() error {
			_, err := th.Join(ctx)
			return err
		})
	}
	err = g.Wait()

	writer.Kill()
	results.Close()
	if _, werr := writer.Join(ctx); werr != nil && err == nil {
		err = werr
	}
	sum, cerr := consumer.Join(ctx)
	if err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return sum.(int64), nil
}

func (w *workload) work(t *vm.Thread, objects []*vm.Object, results *vm.SizedQueue) error {
	scaleSite := vm.NewGlobalReadSite(w.vm.Globals, "$scale")
	ctx := t.Context()
	for i := 0; i < w.iterations; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", vm.ErrInterrupted, context.Cause(ctx))
		}
		obj := objects[i%len(objects)]
		area, err := w.vm.Send(siteArea, obj, "area")
		if err != nil {
			return err
		}
		by, err := scaleSite.Read()
		if err != nil {
			return err
		}
		scaled, err := w.vm.Send(siteScale, area, "scale", by)
		if err != nil {
			return err
		}
		if i%1000 == 0 {
			if _, err := w.vm.Send(siteDescribe, obj, "describe"); err != nil {
				return err
			}
			var nme *vm.NoMethodError
			if _, err := w.vm.Send(siteMissing, obj, "perimeter"); err != nil && !errors.As(err, &nme) {
				return err
			}
		}
		if err := results.Put(ctx, scaled); err != nil {
			return err
		}
	}
	return nil
}
