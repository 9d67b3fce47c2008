package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/swarmnav/swarm/internal/config"
	"github.com/swarmnav/swarm/internal/data"
	"github.com/swarmnav/swarm/internal/nav"
	gonet "github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/observability"
	"github.com/swarmnav/swarm/internal/persist"
	"github.com/swarmnav/swarm/internal/scripting"
	"github.com/swarmnav/swarm/internal/sim"
	"github.com/swarmnav/swarm/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(scenario string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              swarmsim  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        群體導航模擬 · 追蹤移動目標        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m場景:\033[0m %s\n\n", scenario)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main simulation logic ─────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/swarm.toml"
	if p := os.Getenv("SWARM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Navigation.Scenario)

	// 3. Scenario and navigation
	printSection("場景")
	scenario, err := data.LoadScenario(cfg.Navigation.Scenario)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	grid := scenario.BuildGrid()
	navigator := nav.NewGridNavigator()
	if cfg.Navigation.BakeDelay > 0 {
		// Agents hold still until the map is ready.
		bake := time.AfterFunc(cfg.Navigation.BakeDelay, func() {
			navigator.Bake(scenario.MapID(), grid)
			log.Info("導航地圖烘焙完成", zap.Int("map", int(scenario.MapID())))
		})
		defer bake.Stop()
	} else {
		navigator.Bake(scenario.MapID(), grid)
	}
	printStat("地圖格數", grid.Width*grid.Height)
	printStat("障礙物", len(scenario.Obstacles))

	// 4. Target trajectory
	var target system.TargetSource
	if cfg.Scripting.Enabled {
		engine, err := scripting.NewEngine(cfg.Scripting.Dir, scenario.TargetStart().Y, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		if engine.HasTarget() {
			target = engine
			printOK("Lua 目標軌跡已載入")
		}
	}
	if target == nil {
		if route := scenario.Route(); route != nil {
			target = route
			printOK("使用場景路線作為目標軌跡")
		}
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 5. Optional PostgreSQL sample storage
	var samples system.SampleWriter
	if cfg.Database.Enabled {
		printSection("資料庫")
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")

		runs := persist.NewRunRepo(db)
		runID, err := runs.Start(ctx, cfg.Simulation.AgentCount, cfg.Simulation.MaxBatchCount, cfg)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		defer func() {
			finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := runs.Finish(finishCtx, runID); err != nil {
				log.Warn("無法標記執行結束", zap.Int64("run", runID), zap.Error(err))
			}
		}()
		samples = persist.NewSampleRepo(db, runID)
		printStat("執行編號", int(runID))
		fmt.Println()
	}

	// 6. Background services
	g, gctx := errgroup.WithContext(context.Background())

	var collector *observability.SwarmCollector
	var httpServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err = observability.NewSwarmCollector(reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		httpServer = &http.Server{
			Addr:              cfg.Metrics.BindAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var viewers *sim.Viewers
	var netServer *gonet.Server
	if cfg.Render.Enabled {
		netServer, err = gonet.NewServer(cfg.Render.BindAddress, gonet.ServerOptions{
			InQueueSize:  cfg.Render.InQueueSize,
			OutQueueSize: cfg.Render.OutQueueSize,
			ReadTimeout:  cfg.Render.ReadTimeout,
			WriteTimeout: cfg.Render.WriteTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("render server: %w", err)
		}
		viewers = &sim.Viewers{
			Server: netServer,
			Stream: gonet.NewStream(cfg.Render.FrameStride, log),
		}
		g.Go(netServer.AcceptLoop)
	}

	// 7. Avoidance solver
	var solver sim.Solver
	if cfg.Simulation.AvoidanceEnabled {
		local := nav.NewLocalAvoidance(log, cfg.Agent.NeighborDistance)
		defer local.Close(time.Second)
		solver = local
	}

	// 8. Spawn the swarm
	var simOpts []sim.Option
	if v := os.Getenv("SWARM_AGENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SWARM_AGENTS: %w", err)
		}
		simOpts = append(simOpts, sim.WithAgentCount(n))
	}
	simulation, err := sim.New(cfg, sim.Deps{
		MapID:       scenario.MapID(),
		SpawnOrigin: scenario.SpawnOrigin(),
		TargetStart: scenario.TargetStart(),
		Navigator:   navigator,
		Avoidance:   solver,
		Target:      target,
		Viewers:     viewers,
		Samples:     samples,
	}, log, simOpts...)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	if collector != nil {
		collector.Subscribe(simulation.Bus())
	}

	printSection("群體")
	printStat("代理數量", simulation.State().AgentCount())
	printStat("路徑批次", simulation.State().BatchCount())
	fmt.Println()

	// 9. Start simulation loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	tick := cfg.Simulation.PhysicsTick
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	// Between ticks only the input phase runs, so viewer packets and worker
	// results are picked up promptly.
	poll := time.NewTicker(2 * time.Millisecond)
	defer poll.Stop()

	printSection("模擬就緒")
	if netServer != nil {
		printReady(fmt.Sprintf("渲染串流監聽 %s", netServer.Addr().String()))
	}
	if httpServer != nil {
		printReady(fmt.Sprintf("指標監聽 %s/metrics", cfg.Metrics.BindAddress))
	}
	printReady(fmt.Sprintf("模擬迴圈啟動 (tick: %s)", tick))
	fmt.Println()

	var loopErr error
loop:
	for {
		select {
		case <-ticker.C:
			simulation.Tick(tick)
		case <-poll.C:
			simulation.Poll()
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			break loop
		case <-gctx.Done():
			loopErr = context.Cause(gctx)
			log.Error("背景服務異常終止", zap.Error(loopErr))
			break loop
		}
	}

	// 10. Shutdown
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := simulation.Close(closeCtx); err != nil {
		log.Warn("模擬關閉時發生錯誤", zap.Error(err))
	}
	if netServer != nil {
		netServer.Shutdown()
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(closeCtx); err != nil {
			log.Warn("指標伺服器關閉失敗", zap.Error(err))
		}
	}
	if err := g.Wait(); err != nil && loopErr == nil {
		loopErr = err
	}
	log.Info("模擬已停止")
	return loopErr
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
