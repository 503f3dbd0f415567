package main

import (
	"context"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/ai/gomlx"
	"github.com/janpfeifer/activeGo/internal/ai/linear"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/models"
	"github.com/janpfeifer/activeGo/internal/trainer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"path/filepath"
)

// newModelFactory creates a fresh model per repetition, so repetitions can run concurrently.
func newModelFactory(config string, ds *dataset.Dataset) trainer.ModelFactory {
	return func(run int) (ai.Model, error) {
		model, err := models.New(config, ds.Features, ds.NumClasses())
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("run %d: model %s", run, model)
		return model, nil
	}
}

// runAll runs the repetitions of the experiment, up to parallelism of them at a time. The first error
// cancels the others.
func runAll(ctx context.Context, loop *trainer.Loop, parallelism int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for run := range loop.Config().NAverage {
		g.Go(func() error {
			results, err := loop.RunOnce(ctx, run)
			if err != nil {
				return err
			}
			if len(results) > 0 {
				last := results[len(results)-1]
				klog.Infof("run %d finished: %d rounds, %d labeled, dev-acc=%.2f%%", run, len(results), last.NumLabeled, last.DevAcc)
			}
			return nil
		})
	}
	return g.Wait()
}

// saveBestModel returns a trainer.Loop.OnBestModel callback that saves the models.
func saveBestModel(dir string) func(run, round int, model ai.Model) error {
	return func(run, round int, model ai.Model) error {
		switch m := model.(type) {
		case *linear.Classifier:
			return m.Save(filepath.Join(dir, fmt.Sprintf("linear-run%02d.txt", run)))
		case *gomlx.Classifier:
			return m.Save()
		}
		return errors.Errorf("saving models of type %T is not supported", model)
	}
}
