// alearn runs active learning experiments: starting from a small labeled seed, it repeatedly scores the
// unlabeled samples with a strategy, labels the most informative ones, retrains and evaluates, until the
// labeling budget is used.
//
// Example:
//
//	$ alearn -data=mr -data_path=~/data -model=linear -strategy=entropy -budget=1000 -batch_size=50 -n_average=5
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai/gomlx"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/models"
	"github.com/janpfeifer/activeGo/internal/profilers"
	_ "github.com/janpfeifer/activeGo/internal/rl"
	"github.com/janpfeifer/activeGo/internal/trainer"
	"github.com/janpfeifer/activeGo/internal/ui/cli"
	"github.com/janpfeifer/activeGo/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
	"os"
	"time"
)

var (
	flagData     = flag.String("data", "synthetic", "Dataset configuration, e.g. \"mr\", \"trec\", \"mnist\" or \"synthetic:train=1000\".")
	flagDataPath = flag.String("data_path", "data", "Directory with the datasets files.")
	flagModel    = flag.String("model", models.DefaultModelConfig, "Model configuration, e.g. \"linear:learning_rate=0.1\" or \"fnn:fnn_num_hidden_layers=2\".")

	flagStrategy       = flag.String("strategy", "entropy", "Scoring strategy: entropy, egl, nn, random, all or rl:agent=...,load=<file>.")
	flagInitStrategy   = flag.String("init_strategy", "random", "Strategy used to select the initial samples.")
	flagBudget         = flag.Int("budget", 100, "Maximum number of labeled samples.")
	flagBatchSize      = flag.Int("batch_size", 10, "Number of samples labeled per round.")
	flagInitSize       = flag.Int("init_size", 0, "Number of samples labeled in the first round. Defaults to -batch_size.")
	flagEpochs         = flag.Int("epochs", 10, "Training epochs per round.")
	flagTrainBatchSize = flag.Int("train_batch_size", 32, "Mini-batch size for training.")
	flagWarmStart      = flag.Bool("warm_start", false, "Keep training the model from the previous round, instead of resetting it.")
	flagBestCheckpoint = flag.Bool("best_checkpoint", false, "Evaluate on dev during training and report the best snapshot of each round.")
	flagEvalEvery      = flag.Int("eval_every", 1, "With -best_checkpoint, evaluate every these many epochs.")
	flagLRDecay        = flag.Float64("lr_decay", 0, "If > 0, multiply the learning rate by this when the best epoch is earlier than -lr_decay_epoch.")
	flagLRDecayEpoch   = flag.Int("lr_decay_epoch", 0, "See -lr_decay.")
	flagNAverage       = flag.Int("n_average", 1, "Number of repetitions of the experiment, averaged.")
	flagSeed           = flag.Uint64("seed", 42, "Random seed.")
	flagChunkSize      = flag.Int("chunk_size", 256, "Maximum number of samples materialized at once for scoring and evaluation.")

	flagParallelism = flag.Int("parallelism", 1, "Number of repetitions (-n_average) to run concurrently.")
	flagDevice      = flag.String("device", "", "GoMLX backend configuration, e.g. \"xla:cpu\" or \"xla:cuda\".")
	flagCUDA        = flag.Bool("cuda", false, "Shortcut for -device=xla:cuda.")

	flagSink   = flag.String("sink", "local", "Comma-separated metrics sinks: local, external, dashboard, log or none.")
	flagLogDir = flag.String("log_dir", "", "Directory for the local metrics sink. Defaults to logs/<data>-<strategy>-<time>.")
	flagServer = flag.String("server", "", "URL of the log server (external sink) or of the Visdom server (dashboard sink).")
	flagSave   = flag.String("save", "", "If set, save the best model of each round to this directory (linear models). "+
		"GoMLX models save to their own \"checkpoint\" parameter.")
	flagSpinner      = flag.Bool("spinner", true, "Show a spinner with the progress, if stdout is a terminal.")
	flagSpinnerTheme = flag.String("spinner_theme", "ascii", "Spinner symbols: ascii, moon or clock.")
)

// experiment is saved by the local sink as parameters.json.
type experiment struct {
	Dataset string `json:"dataset"`
	Model   string `json:"model"`
	trainer.Config
}

func configFromFlags() trainer.Config {
	return trainer.Config{
		Budget:         *flagBudget,
		BatchSize:      *flagBatchSize,
		InitSize:       *flagInitSize,
		InitStrategy:   *flagInitStrategy,
		Strategy:       *flagStrategy,
		Epochs:         *flagEpochs,
		TrainBatchSize: *flagTrainBatchSize,
		WarmStart:      *flagWarmStart,
		BestCheckpoint: *flagBestCheckpoint,
		EvalEvery:      *flagEvalEvery,
		LRDecay:        *flagLRDecay,
		LRDecayEpoch:   *flagLRDecayEpoch,
		NAverage:       *flagNAverage,
		Seed:           *flagSeed,
		ChunkSize:      *flagChunkSize,
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 5*time.Second)
	defer cancel()

	profilers.Setup(ctx)
	defer profilers.OnQuit()

	device := *flagDevice
	if device == "" && *flagCUDA {
		device = "xla:cuda"
	}
	must.M(gomlx.SetBackendConfig(device))

	must.M(spinning.SetTheme(*flagSpinnerTheme))
	showSpinner := *flagSpinner && cli.IsTerminal()
	cfg := configFromFlags()
	must.M(cfg.Validate())
	var ds *dataset.Dataset
	must.M(spinning.Run(ctx, showSpinner, fmt.Sprintf("loading %q", *flagData), func() (err error) {
		ds, err = dataset.Load(*flagData, *flagDataPath, cfg.Seed)
		return err
	}))

	logDir := *flagLogDir
	if logDir == "" {
		logDir = fmt.Sprintf("logs/%s-%s-%s", ds.Name, *flagStrategy, time.Now().Format("20060102-150405"))
	}
	sink := must.M1(metrics.New(*flagSink, logDir, *flagServer, experiment{Dataset: *flagData, Model: *flagModel, Config: cfg}))
	defer func() { _ = sink.Close() }()

	loop := must.M1(trainer.NewLoop(cfg, ds, newModelFactory(*flagModel, ds), sink))
	if *flagSave != "" {
		must.M(os.MkdirAll(*flagSave, 0755))
		loop.OnBestModel = saveBestModel(*flagSave)
	}
	var spinner *spinning.Spinner
	if showSpinner {
		spinner = spinning.New(ctx, nil, "training the initial model")
		loop.OnRound = func(r trainer.RoundResult) {
			spinner.SetMessage(fmt.Sprintf("run %d, round %d: %d labeled, dev-acc=%.2f%%", r.Run, r.Round, r.NumLabeled, r.DevAcc))
		}
	}

	start := time.Now()
	err := runAll(ctx, loop, *flagParallelism)
	if spinner != nil {
		spinner.Done()
	}
	if ctx.Err() != nil {
		klog.Infof("Interrupted after %s", time.Since(start).Round(time.Second))
		return
	}
	must.M(err)
	klog.Infof("Experiment finished in %s, metrics in %q", time.Since(start).Round(time.Second), logDir)

	title := fmt.Sprintf("%s / %s / %s: %d run(s)", ds.Name, *flagModel, *flagStrategy, cfg.NAverage)
	cli.PrintCentered(os.Stdout, cli.RoundsTable(title, loop.Averager().Summary()).Render(cli.IsTerminal()))
}
