package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/swarmnav/swarm/internal/geom"
	gonet "github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

var (
	addrFlag    string
	nameFlag    string
	strideFlag  uint16
	framesFlag  int
	pingFlag    time.Duration
	reportFlag  time.Duration
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "swarmview",
	Short: "swarmview - connects to a swarmsim render stream and reports what it sees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFlag <= 0 {
			return fmt.Errorf("--report must be positive, got %s", reportFlag)
		}
		log, err := newLogger(verboseFlag)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return view(ctx, log)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&addrFlag, "addr", "a", "127.0.0.1:7420", "render stream address")
	rootCmd.Flags().StringVarP(&nameFlag, "name", "n", "swarmview", "viewer name sent in the handshake")
	rootCmd.Flags().Uint16VarP(&strideFlag, "stride", "s", 0, "receive every Nth frame (0 keeps the server default)")
	rootCmd.Flags().IntVar(&framesFlag, "frames", 0, "exit after this many frames (0 runs until interrupted)")
	rootCmd.Flags().DurationVar(&pingFlag, "ping", 5*time.Second, "ping interval for round-trip timing (0 disables)")
	rootCmd.Flags().DurationVar(&reportFlag, "report", time.Second, "stats report interval")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log every packet")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// stats summarises the frames received since the last report.
type stats struct {
	frames    int
	lastSeq   uint64
	instances int
	centroid  geom.Vec3
	meanStep  float32
}

func (s *stats) observe(f gonet.Frame) {
	s.frames++
	s.lastSeq = f.Seq
	s.instances = f.Instances
	if f.Instances == 0 {
		return
	}
	var sum geom.Vec3
	var step float32
	for i := 0; i < f.Instances; i++ {
		cur := origin(f.Current, i)
		sum = sum.Add(cur)
		step += cur.Sub(origin(f.Previous, i)).Length()
	}
	n := float32(f.Instances)
	s.centroid = sum.Scale(1 / n)
	s.meanStep = step / n
}

func origin(buf []float32, i int) geom.Vec3 {
	base := i * geom.FloatsPerTransform
	return geom.V(buf[base+3], buf[base+7], buf[base+11])
}

// viewOptions are the per-connection settings taken from the flags.
type viewOptions struct {
	name   string
	stride uint16
	frames int
	ping   time.Duration
	report time.Duration
}

func view(ctx context.Context, log *zap.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := gonet.Dial(dialCtx, addrFlag)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("connected", zap.String("addr", addrFlag), zap.String("name", nameFlag))

	_, err = stream(ctx, client, viewOptions{
		name:   nameFlag,
		stride: strideFlag,
		frames: framesFlag,
		ping:   pingFlag,
		report: reportFlag,
	}, log)
	return err
}

// stream runs the handshake and then consumes packets until the frame
// limit, a server goodbye, ctx cancellation or a receive error. It returns
// the number of frames seen.
func stream(ctx context.Context, client *gonet.Client, opts viewOptions, log *zap.Logger) (int, error) {
	if err := client.Hello(opts.name); err != nil {
		return 0, fmt.Errorf("hello: %w", err)
	}
	if opts.stride > 0 {
		if err := client.SetStride(opts.stride); err != nil {
			return 0, fmt.Errorf("stride: %w", err)
		}
	}

	msgs := make(chan gonet.Message, 16)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			msg, err := client.Receive()
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	report := time.NewTicker(opts.report)
	defer report.Stop()
	var pingC <-chan time.Time
	if opts.ping > 0 {
		ping := time.NewTicker(opts.ping)
		defer ping.Stop()
		pingC = ping.C
	}

	var cur stats
	total := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted", zap.Int("frames", total))
			return total, nil
		case err := <-errc:
			return total, fmt.Errorf("receive: %w", err)
		case <-pingC:
			if err := client.Ping(uint64(time.Now().UnixNano())); err != nil {
				return total, fmt.Errorf("ping: %w", err)
			}
		case <-report.C:
			if cur.frames == 0 {
				continue
			}
			log.Info("stream",
				zap.Int("frames", cur.frames),
				zap.Uint64("seq", cur.lastSeq),
				zap.Int("instances", cur.instances),
				zap.Float32("centroid_x", cur.centroid.X),
				zap.Float32("centroid_z", cur.centroid.Z),
				zap.Float32("mean_step", cur.meanStep),
			)
			cur = stats{}
		case msg := <-msgs:
			switch msg.Opcode {
			case packet.S_OPCODE_ALLOCATE:
				log.Info("allocate", zap.Int("instances", msg.Instances), zap.Int("format", int(msg.Format)))
			case packet.S_OPCODE_FRAME:
				cur.observe(msg.Frame)
				total++
				log.Debug("frame", zap.Uint64("seq", msg.Frame.Seq))
				if opts.frames > 0 && total >= opts.frames {
					log.Info("frame limit reached", zap.Int("frames", total))
					return total, nil
				}
			case packet.S_OPCODE_PONG:
				rtt := time.Duration(time.Now().UnixNano() - int64(msg.Nonce))
				log.Info("pong", zap.Duration("rtt", rtt))
			case packet.S_OPCODE_BYE:
				log.Info("server said goodbye", zap.String("reason", msg.Reason))
				return total, nil
			}
		}
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	zapCfg.EncoderConfig.ConsoleSeparator = "  "
	zapCfg.DisableCaller = true
	zapCfg.DisableStacktrace = true
	if !verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return zapCfg.Build()
}
