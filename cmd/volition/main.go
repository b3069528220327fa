package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/volition/ai"
	"github.com/hrygo/volition/engine"
	"github.com/hrygo/volition/goals"
	"github.com/hrygo/volition/internal/profile"
	"github.com/hrygo/volition/internal/version"
	"github.com/hrygo/volition/memory"
	"github.com/hrygo/volition/metrics"
	"github.com/hrygo/volition/monitor"
	"github.com/hrygo/volition/personality"
	"github.com/hrygo/volition/scheduler"
	"github.com/hrygo/volition/store"
	"github.com/hrygo/volition/store/db"
	"github.com/hrygo/volition/units"
)

const (
	taskDecisionCycle     = "decision_cycle"
	taskEmbeddingBackfill = "embedding_backfill"
	taskPersonalityDrift  = "personality_drift"
)

var rootCmd = &cobra.Command{
	Use:   "volition",
	Short: `An unattended decision loop. Schedules, gates, and archives its own actions without supervision.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Systemd services get their environment from the unit file.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:          viper.GetString("mode"),
			Data:          viper.GetString("data"),
			Driver:        viper.GetString("driver"),
			DSN:           viper.GetString("dsn"),
			GoalsFile:     viper.GetString("goals"),
			CheckInterval: viper.GetInt("check-interval"),
			MainInterval:  viper.GetInt("main-interval"),
			NightMode:     viper.GetBool("night-mode"),
			NightStart:    viper.GetString("night-start"),
			NightEnd:      viper.GetString("night-end"),
			MetricsPort:   viper.GetInt("metrics-port"),
			Version:       version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		goalConfig, err := goals.Load(instanceProfile.GoalsFile)
		if err != nil {
			slog.Error("failed to load goals", "error", err)
			return
		}

		exporter := metrics.NewExporter(metrics.DefaultConfig())

		var embedder memory.Embedder
		if instanceProfile.IsEmbeddingEnabled() {
			service, err := ai.NewEmbeddingService(&ai.EmbeddingConfig{
				APIKey:            instanceProfile.AIEmbeddingAPIKey,
				BaseURL:           instanceProfile.AIEmbeddingBaseURL,
				Model:             instanceProfile.AIEmbeddingModel,
				Dimensions:        instanceProfile.AIEmbeddingDimensions,
				RequestsPerSecond: instanceProfile.AIEmbeddingRPS,
			})
			if err != nil {
				slog.Error("failed to create embedding service", "error", err)
				return
			}
			embedder = &meteredEmbedder{service: service, exporter: exporter}
		} else {
			slog.Warn("no embedding API key configured, repetition checks are disabled")
		}

		index := memory.NewIndex(storeInstance, embedder)

		personalityManager, err := personality.NewManager(ctx, storeInstance)
		if err != nil {
			slog.Error("failed to load personality", "error", err)
			return
		}

		stateMonitor := monitor.New(storeInstance, goalConfig)

		pipeline := engine.NewPipeline([]string{"planner", "repetition_gate", "archivist"})
		pipeline.Register("planner", units.NewPlanner(goalConfig, personalityManager))
		pipeline.Register("repetition_gate", units.NewRepetitionGate(index, memory.DefaultRepetitionThreshold))
		pipeline.Register("archivist", units.NewArchivist(index))

		sched := scheduler.New(scheduler.Config{
			CheckInterval: time.Duration(instanceProfile.CheckInterval) * time.Second,
			NightMode:     instanceProfile.NightMode,
			NightStart:    instanceProfile.NightStart,
			NightEnd:      instanceProfile.NightEnd,
			MainTask:      taskDecisionCycle,
		}, &meteredTriggers{monitor: stateMonitor, exporter: exporter})

		mustAddTask(sched, taskDecisionCycle, func(ctx context.Context) error {
			report, err := pipeline.Run(ctx, engine.Blackboard{})
			if err != nil {
				exporter.RecordTaskRun(taskDecisionCycle, false)
				return err
			}
			exporter.RecordPipelineDuration(report.Duration)
			exporter.RecordTaskRun(taskDecisionCycle, !report.Halted)
			for unitName, reflection := range report.Reflections {
				if reflection.Failed() {
					exporter.RecordCycleFailure(unitName)
				}
			}
			return nil
		}, scheduler.WithInterval(time.Duration(instanceProfile.MainInterval)*time.Second))

		// Backfill ignores the night window: vectors can catch up while the
		// main task sleeps.
		mustAddTask(sched, taskEmbeddingBackfill, func(ctx context.Context) error {
			count, err := index.BackfillEmbeddings(ctx, 50)
			if count > 0 {
				slog.Info("backfilled embeddings", "count", count)
			}
			exporter.RecordTaskRun(taskEmbeddingBackfill, err == nil)
			return err
		}, scheduler.WithInterval(6*time.Hour), scheduler.RunsAtNight())

		mustAddTask(sched, taskPersonalityDrift, func(ctx context.Context) error {
			kind := store.HistoryKindContent
			records, err := storeInstance.ListHistoryRecords(ctx, &store.FindHistoryRecord{Kind: &kind, Limit: 20})
			if err != nil {
				exporter.RecordTaskRun(taskPersonalityDrift, false)
				return err
			}
			err = personalityManager.Drift(ctx, personality.ExperienceFromRecords(records))
			exporter.RecordTaskRun(taskPersonalityDrift, err == nil)
			return err
		}, scheduler.WithTimesOfDay("23:30"), scheduler.RunsAtNight())

		if instanceProfile.MetricsPort > 0 {
			go serveMetrics(instanceProfile.MetricsPort, exporter)
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal of most process managers.
		signal.Notify(c, terminationSignals...)

		sched.Start(ctx)
		printGreetings(instanceProfile)

		<-c
		slog.Info("shutting down")
		sched.Stop()
		cancel()
	},
}

// meteredTriggers decorates the monitor with trigger-fire metrics.
type meteredTriggers struct {
	monitor  *monitor.Monitor
	exporter *metrics.Exporter
}

func (m *meteredTriggers) CheckState(ctx context.Context) []monitor.Trigger {
	triggers := m.monitor.CheckState(ctx)
	for _, t := range triggers {
		m.exporter.RecordTriggerFire(t.Name)
	}
	return triggers
}

// meteredEmbedder decorates the embedding service with request metrics.
type meteredEmbedder struct {
	service  ai.EmbeddingService
	exporter *metrics.Exporter
}

func (m *meteredEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := m.service.Embed(ctx, text)
	m.exporter.RecordEmbeddingRequest(err == nil)
	return vector, err
}

func mustAddTask(sched *scheduler.Scheduler, name string, fn scheduler.TaskFunc, opts ...scheduler.TaskOption) {
	if err := sched.AddTask(name, fn, opts...); err != nil {
		panic(err)
	}
}

func serveMetrics(port int, exporter *metrics.Exporter) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "error", err)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	// Enables `volition --version`.
	rootCmd.Version = version.StringFull()

	rootCmd.PersistentFlags().String("mode", "dev", `mode, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("goals", "", "path to the goals configuration file")
	rootCmd.PersistentFlags().Int("check-interval", 60, "seconds between scheduler ticks")
	rootCmd.PersistentFlags().Int("main-interval", 3600, "seconds between decision cycle runs")
	rootCmd.PersistentFlags().Bool("night-mode", true, "hold non-exempt tasks back during the night window")
	rootCmd.PersistentFlags().String("night-start", "22:00", "start of the night window (HH:MM)")
	rootCmd.PersistentFlags().String("night-end", "08:00", "end of the night window (HH:MM)")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "port of the Prometheus metrics endpoint, 0 disables it")

	for _, flag := range []string{
		"mode", "data", "driver", "dsn", "goals",
		"check-interval", "main-interval",
		"night-mode", "night-start", "night-end",
		"metrics-port",
	} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("volition")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Volition %s started\n", profile.Version)
	fmt.Printf("Build: %s\n", version.String())
	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.IsDev() && profile.DSN != "" {
		fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
	}
	if profile.MetricsPort > 0 {
		fmt.Printf("Metrics: http://localhost:%d/metrics\n", profile.MetricsPort)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
