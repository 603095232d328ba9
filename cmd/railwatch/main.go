// Command railwatch trains the incident classifier on a historical feed and
// either scores it or replays a feed through the streaming detector.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/railwatch/pkg/config"
	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/eval"
	railio "github.com/hed1ad/railwatch/pkg/io"
	"github.com/hed1ad/railwatch/pkg/io/csv"
	"github.com/hed1ad/railwatch/pkg/monitor"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg *config.Config
	log *logrus.Entry
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "railwatch",
		Short:        "Detect blocked feeds and voltage jumps in sensor data",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with RAILWATCH_* overrides")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(a.evaluateCmd(), a.detectCmd())
	return root
}

func (a *app) setup() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	a.cfg = cfg
	a.log = logrus.NewEntry(logger)
	return nil
}

func (a *app) evaluateCmd() *cobra.Command {
	var trainFraction float64

	cmd := &cobra.Command{
		Use:   "evaluate <data.csv>",
		Short: "Train on the head of a feed and score the detector on its tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, err := a.cfg.Detector()
			if err != nil {
				return err
			}
			readings, err := a.readAll(args[0])
			if err != nil {
				return err
			}

			report, err := eval.Run(dc, readings,
				eval.WithTrainFraction(trainFraction),
				eval.WithLearner(a.cfg.Learner()),
				eval.WithLogger(a.log),
			)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Float64Var(&trainFraction, "train-fraction", 0.8, "leading share of the feed used for training")
	return cmd
}

func (a *app) detectCmd() *cobra.Command {
	var historyPath string

	cmd := &cobra.Command{
		Use:   "detect <feed.csv>",
		Short: "Replay a feed through the streaming detector and print incidents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, err := a.cfg.Detector()
			if err != nil {
				return err
			}

			det, err := monitor.NewDetector(dc, monitor.WithLogger(a.log))
			if err != nil {
				return err
			}

			if historyPath != "" {
				history, err := a.readAll(historyPath)
				if err != nil {
					return err
				}
				trainer, err := monitor.NewTrainer(dc,
					monitor.WithLearner(a.cfg.Learner()),
					monitor.WithTrainerLogger(a.log),
				)
				if err != nil {
					return err
				}
				model, err := trainer.Train(history)
				if err != nil {
					return err
				}
				det.SetModel(model)
			} else {
				a.log.Warn("No history given, running rule-only detection")
			}

			return a.replay(cmd.Context(), cmd, det, args[0], dc)
		},
	}

	cmd.Flags().StringVar(&historyPath, "train", "", "historical feed (volts) used to train the classifier")
	return cmd
}

func (a *app) replay(ctx context.Context, cmd *cobra.Command, det *monitor.Detector, path string, dc detectors.Config) error {
	r, err := a.open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	rows, err := r.Stream(ctx)
	if err != nil {
		return err
	}

	var total, rejected, raised int
	out := cmd.OutOrStdout()
	for raw := range rows {
		total++
		incidents, err := det.ProcessRaw(raw)
		if err != nil {
			var verr *sensor.ValidationError
			if errors.As(err, &verr) {
				rejected++
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				continue
			}
			return err
		}
		for _, inc := range incidents {
			raised++
			fmt.Fprintln(out, inc)
		}
	}

	a.log.WithFields(logrus.Fields{
		"rows":       total,
		"rejected":   rejected,
		"incidents":  raised,
		"unit_scale": dc.UnitScale,
	}).Info("Replay finished")
	return nil
}

func (a *app) open(path string) (railio.Reader, error) {
	r, err := csv.NewReader(path, csv.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *app) readAll(path string) ([]sensor.Reading, error) {
	r, err := a.open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.Read()
}
