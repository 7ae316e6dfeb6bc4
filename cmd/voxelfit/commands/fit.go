package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"voxelfit/internal/models"
	"voxelfit/pkg/apply"
	"voxelfit/pkg/relax"
	"voxelfit/pkg/visualization"
	"voxelfit/pkg/volumeio"
)

// fitFlags are shared by every fitting command
type fitFlags struct {
	mask        string
	threads     int
	scaleToMean bool
	metrics     bool
	noProgress  bool
}

func (f *fitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mask, "mask", "m", "", "mask volume; voxels where it is zero are skipped")
	cmd.Flags().IntVarP(&f.threads, "threads", "T", 0, "worker count, 0 uses every CPU (overrides config)")
	cmd.Flags().BoolVar(&f.scaleToMean, "scale-to-mean", false, "divide each voxel's data by its mean (overrides config)")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "print Prometheus metrics after the run")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")
}

// fitJob describes one engine pass
type fitJob struct {
	alg    apply.Algorithm
	data   string
	consts map[int]string
	flags  *fitFlags
	cmd    *cobra.Command
}

func newMultiEchoCommand() *cobra.Command {
	flags := &fitFlags{}
	var te1, esp float64
	var etl int

	cmd := &cobra.Command{
		Use:   "multiecho <data>",
		Short: "Fit PD and T2 to multi-echo spin echo data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("te1") {
				cfg.MultiEcho.TE1 = te1
			}
			if cmd.Flags().Changed("esp") {
				cfg.MultiEcho.ESP = esp
			}
			if cmd.Flags().Changed("etl") {
				cfg.MultiEcho.ETL = etl
			}
			alg, err := relax.NewMultiEcho(cfg.MultiEcho.TE1, cfg.MultiEcho.ESP, cfg.MultiEcho.ETL)
			if err != nil {
				return err
			}
			return runFit(fitJob{alg: alg, data: args[0], flags: flags, cmd: cmd})
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&te1, "te1", 0, "first echo time in seconds (overrides config)")
	cmd.Flags().Float64Var(&esp, "esp", 0, "echo spacing in seconds (overrides config)")
	cmd.Flags().IntVar(&etl, "etl", 0, "echo train length (overrides config)")
	return cmd
}

func newDESPOT1Command() *cobra.Command {
	flags := &fitFlags{}
	var b1 string
	var tr float64
	var flips []float64

	cmd := &cobra.Command{
		Use:   "despot1 <data>",
		Short: "Fit PD and T1 to variable flip angle SPGR data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("tr") {
				cfg.SPGR.TR = tr
			}
			if cmd.Flags().Changed("flip") {
				cfg.SPGR.FlipAngles = flips
			}
			alg, err := relax.NewDESPOT1(cfg.SPGR.TR, cfg.SPGR.FlipAngles)
			if err != nil {
				return err
			}
			job := fitJob{alg: alg, data: args[0], flags: flags, cmd: cmd}
			if b1 != "" {
				job.consts = map[int]string{0: b1}
			}
			return runFit(job)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&b1, "b1", "", "relative B1 map; 1.0 everywhere when omitted")
	cmd.Flags().Float64Var(&tr, "tr", 0, "repetition time in seconds (overrides config)")
	cmd.Flags().Float64SliceVar(&flips, "flip", nil, "flip angles in degrees (overrides config)")
	return cmd
}

// runFit dispatches on the configured output precision
func runFit(job fitJob) error {
	if job.cmd.Flags().Changed("threads") {
		cfg.Processing.PoolSize = job.flags.threads
	}
	if job.cmd.Flags().Changed("scale-to-mean") {
		cfg.Processing.ScaleToMean = job.flags.scaleToMean
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Processing.Precision == "float64" {
		return fit[float64](job)
	}
	return fit[float32](job)
}

func fit[T apply.Float](job fitJob) error {
	reg := prometheus.NewRegistry()
	metrics, err := apply.NewMetrics("voxelfit", reg)
	if err != nil {
		return err
	}

	input, err := volumeio.ReadSampler(job.data)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var bar *progressbar.ProgressBar
	opts := []apply.Option{
		apply.WithPoolSize(cfg.Processing.PoolSize),
		apply.WithScaleToMean(cfg.Processing.ScaleToMean),
		apply.WithLogger(log.Logger),
		apply.WithMetrics(metrics),
	}
	if !job.flags.noProgress {
		bar = progressbar.NewOptions(input.Grid().Len(),
			progressbar.OptionSetDescription("Fitting voxels"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts, apply.WithProgress(func(completed, total int) {
			_ = bar.Add(1)
		}))
	}

	eng, err := apply.New[T](job.alg, opts...)
	if err != nil {
		return err
	}
	if err := eng.SetInput(0, input); err != nil {
		return err
	}
	for i, path := range job.consts {
		c, err := volumeio.ReadSampler(path)
		if err != nil {
			return fmt.Errorf("failed to read constant %d: %w", i, err)
		}
		if err := eng.SetConst(i, c); err != nil {
			return err
		}
	}
	if job.flags.mask != "" {
		mask, err := volumeio.ReadSampler(job.flags.mask)
		if err != nil {
			return fmt.Errorf("failed to read mask: %w", err)
		}
		eng.SetMask(mask)
	}

	res, err := eng.Run()
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	if err := writeResult(res); err != nil {
		return err
	}
	printSummary(job.alg, res.Stats, cfg.Output.Dir)

	if job.flags.metrics {
		return printMetrics(reg)
	}
	return nil
}

// writeResult saves every output map plus residuals and iterations as
// <dir>/<prefix><name>
func writeResult[T apply.Float](res *apply.Result[T]) error {
	base := func(name string) string {
		return filepath.Join(cfg.Output.Dir, cfg.Output.Prefix+name)
	}
	for i, name := range res.Names() {
		out := res.Outputs()[i]
		if err := volumeio.Write(base(name), out); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if cfg.Output.SavePreview {
			savePreview(name, out)
		}
	}
	if err := volumeio.Write(base("residuals"), res.Residuals()); err != nil {
		return fmt.Errorf("failed to write residuals: %w", err)
	}
	if err := volumeio.Write(base("iterations"), res.Iterations()); err != nil {
		return fmt.Errorf("failed to write iterations: %w", err)
	}
	return nil
}

func savePreview[T apply.Float](name string, v *models.Volume[T]) {
	viewer, err := visualization.NewViewer(v, 0)
	if err != nil {
		log.Warn().Err(err).Str("output", name).Msg("Skipping preview")
		return
	}
	prefix := filepath.Join(cfg.Output.Dir, "preview", cfg.Output.Prefix+name)
	if err := viewer.SaveMiddleSlices(prefix); err != nil {
		log.Warn().Err(err).Str("output", name).Msg("Failed to save preview")
	}
}

// printMetrics writes the registry in Prometheus text exposition format
func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}
