// rlearn trains an agent to make the active learning decisions: for every candidate presented, query
// its label (and its closest neighbours') or skip it. The reward of a query is the improvement of the
// classifier's dev accuracy.
//
// The trained agent can then be used as a scoring strategy by alearn, with -strategy=rl:agent=...,load=<file>.
//
// Example:
//
//	$ rlearn -data=synthetic -agent=dqn:target_update=10 -episodes=50 -store=checkpoints
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/ai/gomlx"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/models"
	"github.com/janpfeifer/activeGo/internal/profilers"
	"github.com/janpfeifer/activeGo/internal/rl"
	"github.com/janpfeifer/activeGo/internal/store"
	"github.com/janpfeifer/activeGo/internal/ui/cli"
	"github.com/janpfeifer/activeGo/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"strings"
	"time"
)

var (
	flagData     = flag.String("data", "synthetic", "Dataset configuration, e.g. \"mr\", \"trec\", \"mnist\" or \"synthetic:train=1000\".")
	flagDataPath = flag.String("data_path", "data", "Directory with the datasets files.")
	flagModel    = flag.String("model", models.DefaultModelConfig, "Model configuration. It must support embedding the samples.")
	flagAgent    = flag.String("agent", "policy", "Agent configuration, one of "+strings.Join(rl.AgentNames(), ", ")+
		", optionally followed by parameters, e.g. \"dqn:gamma=0.9,target_update=10\".")

	flagTopK            = flag.Int("topk", 5, "Number of closest samples whose distances are part of the state.")
	flagIntraNeighbor   = flag.Bool("intra_neighbor", false, "Add the mean distances among the top-k neighbours to the state.")
	flagPredictionTopK  = flag.Int("prediction_topk", 0, "If > 0, add the distances in the space of the predicted class probabilities to the state.")
	flagGlobalMean      = flag.Bool("global_mean", false, "Add the distance to the mean embedding to the state.")
	flagEntropy         = flag.Bool("entropy", false, "Add the entropy of the prediction to the state.")
	flagSelectionRadius = flag.Int("selection_radius", 1, "Number of samples labeled per query.")
	flagRewardThreshold = flag.Float64("reward_threshold", 0, "Subtracted from the accuracy improvement of every query.")
	flagBudget          = flag.Int("budget", 100, "Maximum number of samples queried per episode.")
	flagInitSamples     = flag.Int("init_samples", 10, "Number of samples randomly labeled at the start of each episode.")
	flagInitEpochs      = flag.Int("init_epochs", 30, "Training epochs on the initial samples.")
	flagEpochs          = flag.Int("epochs", 5, "Training epochs after each query.")
	flagLRUpdate        = flag.Int("lr_update", 0, "If > 0, divide the learning rate by 10 every these many epochs of an episode.")
	flagTrainBatchSize  = flag.Int("train_batch_size", 32, "Mini-batch size for training the classifier.")
	flagEpisodes        = flag.Int("episodes", 10, "Number of episodes to train the agent.")
	flagSeed            = flag.Uint64("seed", 42, "Random seed.")
	flagChunkSize       = flag.Int("chunk_size", 256, "Maximum number of samples materialized at once when encoding.")
	flagCacheSize       = flag.Int("cache_size", 1024, "Number of state vectors cached between re-encodings.")

	flagStore  = flag.String("store", "", "Where to save the agent checkpoints: a local directory or the URL of a log server.")
	flagResume = flag.String("resume", "", "Checkpoint to resume from, e.g. \"policy/000012-0.7500\", or \"latest\" with a local -store.")
	flagDevice = flag.String("device", "", "GoMLX backend configuration, e.g. \"xla:cpu\" or \"xla:cuda\".")
	flagSink   = flag.String("sink", "log", "Comma-separated metrics sinks: local, external, dashboard, log or none.")
	flagLogDir = flag.String("log_dir", "", "Directory for the local metrics sink. Defaults to logs/rl-<data>-<agent>-<time>.")
	flagServer = flag.String("server", "", "URL of the log server (external sink) or of the Visdom server (dashboard sink).")

	flagSpinner      = flag.Bool("spinner", true, "Show a spinner while training, if stdout is a terminal.")
	flagSpinnerTheme = flag.String("spinner_theme", "ascii", "Spinner symbols: ascii, moon or clock.")
)

func configFromFlags() rl.Config {
	return rl.Config{
		TopK:            *flagTopK,
		SelectionRadius: *flagSelectionRadius,
		RewardThreshold: *flagRewardThreshold,
		Budget:          *flagBudget,
		InitSamples:     *flagInitSamples,
		InitEpochs:      *flagInitEpochs,
		Epochs:          *flagEpochs,
		LRUpdate:        *flagLRUpdate,
		TrainBatchSize:  *flagTrainBatchSize,
		Episodes:        *flagEpisodes,
		Seed:            *flagSeed,
		ChunkSize:       *flagChunkSize,
		CacheSize:       *flagCacheSize,
		State: rl.StateConfig{
			IntraNeighbor:  *flagIntraNeighbor,
			PredictionTopK: *flagPredictionTopK,
			GlobalMean:     *flagGlobalMean,
			Entropy:        *flagEntropy,
		},
	}
}

// openStore returns the checkpoint store configured by -store, or nil if none was configured.
func openStore(config string) (store.Store, error) {
	switch {
	case config == "":
		return nil, nil
	case strings.HasPrefix(config, "http://") || strings.HasPrefix(config, "https://"):
		return store.NewRemote(config), nil
	default:
		return store.NewLocal(config)
	}
}

// resumeKey parses -resume, where "latest" is the most recent checkpoint of the agent in a local store.
func resumeKey(config string, st store.Store, agentName string) (store.Key, error) {
	if config != "latest" {
		return store.ParseKey(config)
	}
	local, ok := st.(*store.Local)
	if !ok {
		return store.Key{}, errors.New("-resume=latest requires a local -store directory")
	}
	return local.Latest(agentName)
}

// experiment is saved by the local sink as parameters.json.
type experiment struct {
	Dataset string `json:"dataset"`
	Model   string `json:"model"`
	Agent   string `json:"agent"`
	rl.Config
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
	must.M(gomlx.SetBackendConfig(*flagDevice))

	cfg := configFromFlags()
	must.M(cfg.Validate())
	ds := must.M1(dataset.Load(*flagData, *flagDataPath, cfg.Seed))
	model := must.M1(models.New(*flagModel, ds.Features, ds.NumClasses()))
	encoder, ok := model.(ai.Encoder)
	if !ok {
		klog.Fatalf("model %q cannot embed samples, it can't be used to train agents", *flagModel)
	}
	episode := must.M1(rl.NewEpisode(cfg, ds, encoder))
	agent := must.M1(rl.NewAgent(*flagAgent, cfg.StateDim(), cfg.Seed))

	logDir := *flagLogDir
	if logDir == "" {
		logDir = fmt.Sprintf("logs/rl-%s-%s-%s", ds.Name, agent.Name(), time.Now().Format("20060102-150405"))
	}
	sink := must.M1(metrics.New(*flagSink, logDir, *flagServer,
		experiment{Dataset: *flagData, Model: *flagModel, Agent: *flagAgent, Config: cfg}))
	defer func() { _ = sink.Close() }()

	st := must.M1(openStore(*flagStore))
	t := rl.NewTrainer(episode, agent, sink, st)
	if *flagResume != "" {
		key := must.M1(resumeKey(*flagResume, st, agent.Name()))
		must.M(t.Resume(key))
		klog.Infof("Resumed agent %q from %s", agent.Name(), key)
	}

	must.M(spinning.SetTheme(*flagSpinnerTheme))
	start := time.Now()
	var results []rl.EpisodeResult
	err := spinning.Run(ctx, *flagSpinner && cli.IsTerminal(),
		fmt.Sprintf("training %s for %d episodes", agent.Name(), cfg.Episodes), func() (err error) {
			results, err = t.Run(ctx)
			return err
		})
	if ctx.Err() != nil {
		klog.Infof("Interrupted after %s", time.Since(start).Round(time.Second))
		return
	}
	must.M(err)
	klog.Infof("Trained %d episodes in %s", len(results), time.Since(start).Round(time.Second))

	title := fmt.Sprintf("%s / %s / %s", ds.Name, *flagModel, *flagAgent)
	cli.PrintCentered(os.Stdout, cli.EpisodesTable(title, results).Render(cli.IsTerminal()))
}
