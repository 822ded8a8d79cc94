package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagConfig     = "config"
	flagText       = "text"
	flagFile       = "file"
	flagOutput     = "output"
	flagVoice      = "voice"
	flagSpeed      = "speed"
	flagPitch      = "pitch"
	flagMulti      = "multi-language"
	flagClean      = "clean"
	flagModel      = "model"
	flagPitchShift = "pitch-shift"
	flagIndexRatio = "index-ratio"
	flagF0         = "f0-method"
	flagPreset     = "preset"
	flagSelect     = "select"
)

// Flag descriptions.
const (
	flagConfigDesc     = "Path to project.toml (defaults to the configurator's project lookup)"
	flagTextDesc       = "Text to convert to speech"
	flagFileDesc       = "File containing the text to convert"
	flagOutputDesc     = "Output file path (.wav)"
	flagVoiceDesc      = "Base voice (defaults to synthesis.base_voice)"
	flagSpeedDesc      = "Speed multiplier, 1.0 is normal"
	flagPitchDesc      = "Pitch adjustment in Hz"
	flagMultiDesc      = "Segment by script and pick a voice per language"
	flagCleanDesc      = "Normalize text before synthesis"
	flagModelDesc      = "Conversion model; enables voice conversion"
	flagPitchShiftDesc = "Conversion pitch shift in semitones"
	flagIndexRatioDesc = "Conversion index ratio (0-1)"
	flagF0Desc         = "Conversion pitch extraction method"
	flagPresetDesc     = "Conversion preset (male_to_female, female_to_male, deeper, higher, natural)"
	flagSelectDesc     = "Device to select (cpu, auto, accel:<n>)"
)

// Messages.
const (
	errEitherTextOrFile    = "either --text or --file must be provided"
	errCannotSpecifyBoth   = "cannot specify both --text and --file"
	errFmtReadText         = "failed to read text file: %w"
	errFmtSynthesisFailed  = "synthesis failed: %s"
	errFmtWriteOutput      = "failed to write output: %w"
	errFmtLoadConfig       = "failed to load configuration: %w"
	errFmtCreateLogger     = "failed to initialize logger: %w"
	errFmtBuildPipeline    = "failed to build pipeline: %w"
	errFmtNotAudioFile     = "output %q must have an audio file extension"
	msgFmtGenerated        = "Generated: %s (%s)\n"
	msgFmtDuration         = "Duration: %s\n"
	msgFmtSteps            = "Steps: %s\n"
	msgFmtWarning          = "Warning: %s\n"
	msgFmtNonFatal         = "Note: %s\n"
	msgFmtCurrentDevice    = "Current device: %s\n"
	msgFmtSelectedDevice   = "Selected device: %s\n"
	msgNoModels            = "No models found."
	msgServiceHealthy      = "Synthesis service is healthy"
	logFileName            = "voicectl.log"
	defaultOutputFile      = "output.wav"
	outputFileMode         = 0o644
	tabPadding             = 2
	defaultSpeedMultiplier = 1.0
)

var (
	errNoText   = errors.New(errEitherTextOrFile)
	errBothText = errors.New(errCannotSpecifyBoth)
)

// app carries what every subcommand needs.
type app struct {
	configPath string
	newContext func(cfg *config.Config, log *logger.Logger) (*pipeline.Context, error)
}

// synthFlags holds the parsed synth flag values.
type synthFlags struct {
	text       string
	file       string
	output     string
	voice      string
	speed      float64
	pitch      int
	multi      bool
	clean      bool
	model      string
	pitchShift int
	indexRatio float64
	f0Method   string
	preset     string
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	application := &app{
		newContext: func(cfg *config.Config, log *logger.Logger) (*pipeline.Context, error) {
			return pipeline.NewContext(cfg, log, pipeline.Options{})
		},
	}

	return application.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicectl",
		Short:         "Operate the voice pipeline locally",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&a.configPath, flagConfig, "", flagConfigDesc)

	root.AddCommand(
		a.synthCmd(),
		a.modelsCmd(),
		a.voicesCmd(),
		a.devicesCmd(),
		a.healthCmd(),
	)

	return root
}

// setup loads config and the logger, then builds the pipeline context.
func (a *app) setup() (*pipeline.Context, func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFmtCreateLogger, err)
	}

	pctx, err := a.newContext(cfg, log)
	if err != nil {
		_ = log.Close()

		return nil, nil, fmt.Errorf(errFmtBuildPipeline, err)
	}

	cleanup := func() {
		pctx.Close()
		_ = log.Close()
	}

	return pctx, cleanup, nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return nil, fmt.Errorf(errFmtLoadConfig, err)
		}

		return cfg, nil
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateLogger, err)
	}
	defer bootstrapLog.Close()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return nil, fmt.Errorf(errFmtLoadConfig, err)
	}

	return cfg, nil
}

func (a *app) synthCmd() *cobra.Command {
	var flags synthFlags

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text (and optionally convert it) to a WAV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := readInput(flags)
			if err != nil {
				return err
			}

			if !ttsutils.IsValidAudioFile(flags.output) {
				return fmt.Errorf(errFmtNotAudioFile, flags.output)
			}

			pctx, cleanup, err := a.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			return runSynth(cmd.Context(), cmd.OutOrStdout(), pctx, buildRequest(input, flags, pctx.Config), flags.output)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.text, flagText, "", flagTextDesc)
	f.StringVar(&flags.file, flagFile, "", flagFileDesc)
	f.StringVarP(&flags.output, flagOutput, "o", defaultOutputFile, flagOutputDesc)
	f.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	f.Float64Var(&flags.speed, flagSpeed, defaultSpeedMultiplier, flagSpeedDesc)
	f.IntVar(&flags.pitch, flagPitch, 0, flagPitchDesc)
	f.BoolVar(&flags.multi, flagMulti, false, flagMultiDesc)
	f.BoolVar(&flags.clean, flagClean, false, flagCleanDesc)
	f.StringVar(&flags.model, flagModel, "", flagModelDesc)
	f.IntVar(&flags.pitchShift, flagPitchShift, 0, flagPitchShiftDesc)
	f.Float64Var(&flags.indexRatio, flagIndexRatio, -1, flagIndexRatioDesc)
	f.StringVar(&flags.f0Method, flagF0, "", flagF0Desc)
	f.StringVar(&flags.preset, flagPreset, "", flagPresetDesc)

	return cmd
}

// readInput validates the text source flags and returns the text.
func readInput(flags synthFlags) (string, error) {
	switch {
	case flags.text == "" && flags.file == "":
		return "", errNoText
	case flags.text != "" && flags.file != "":
		return "", errBothText
	case flags.text != "":
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf(errFmtReadText, err)
	}

	return string(data), nil
}

// buildRequest maps flags onto a pipeline request, filling configured defaults.
func buildRequest(input string, flags synthFlags, cfg *config.Config) pipeline.Request {
	voice := flags.voice
	if voice == "" {
		voice = cfg.Synthesis.BaseVoice
	}

	req := pipeline.Request{
		Text: input,
		Synthesis: pipeline.SynthesisParams{
			Voice:         voice,
			Speed:         flags.speed,
			PitchHz:       flags.pitch,
			MultiLanguage: flags.multi || cfg.Synthesis.MultiLanguage,
			Clean:         flags.clean || cfg.Synthesis.CleanText,
		},
	}

	if flags.model == "" {
		return req
	}

	req.Conversion = &pipeline.ConversionParams{
		Enabled:    true,
		Model:      flags.model,
		PitchShift: flags.pitchShift,
		F0Method:   flags.f0Method,
		Preset:     flags.preset,
	}

	if flags.indexRatio >= 0 {
		indexRatio := flags.indexRatio
		req.Conversion.IndexRatio = &indexRatio
	}

	return req
}

func runSynth(ctx context.Context, out io.Writer, pctx *pipeline.Context, req pipeline.Request, output string) error {
	result := pctx.Process(ctx, req)
	if !result.Success {
		return fmt.Errorf(errFmtSynthesisFailed, result.Error)
	}

	dir := filepath.Dir(output)

	err := ttsutils.EnsureDir(dir)
	if err != nil {
		return fmt.Errorf(errFmtWriteOutput, err)
	}

	err = os.WriteFile(output, result.FinalAudio, outputFileMode)
	if err != nil {
		return fmt.Errorf(errFmtWriteOutput, err)
	}

	fmt.Fprintf(out, msgFmtGenerated, output, ttsutils.FormatFileSize(ttsutils.FileSize(output)))

	pcm, decodeErr := audio.Decode(result.FinalAudio)
	if decodeErr == nil {
		fmt.Fprintf(out, msgFmtDuration, ttsutils.FormatDuration(pcm.Duration().Seconds()))
	}

	fmt.Fprintf(out, msgFmtSteps, strings.Join(result.Steps, ", "))

	for _, warning := range result.Warnings {
		fmt.Fprintf(out, msgFmtWarning, warning)
	}

	if result.Error != "" {
		fmt.Fprintf(out, msgFmtNonFatal, result.Error)
	}

	return nil
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List voice conversion models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pctx, cleanup, err := a.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			available, err := pctx.Models.List()
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(available) == 0 {
				fmt.Fprintln(out, msgNoModels)

				return nil
			}

			writer := tabwriter.NewWriter(out, 0, 0, tabPadding, ' ', 0)
			fmt.Fprintln(writer, "NAME\tMODEL\tINDEX")

			for _, model := range available {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", model.Name, model.ModelPath, model.IndexPath)
			}

			return writer.Flush()
		},
	}
}

func (a *app) voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voice used for each language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pctx, cleanup, err := a.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)
			fmt.Fprintln(writer, "LANGUAGE\tVOICE\tGENDER")

			for _, profile := range pctx.Dispatcher.Catalog().List() {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", profile.Language, profile.ID, profile.Gender)
			}

			return writer.Flush()
		},
	}
}

func (a *app) devicesCmd() *cobra.Command {
	var choice string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Detect compute devices and optionally select one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pctx, cleanup, err := a.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			detected := pctx.Devices.Detect(cmd.Context())

			writer := tabwriter.NewWriter(out, 0, 0, tabPadding, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tMEMORY")

			for _, candidate := range detected.Available {
				fmt.Fprintf(writer, "%s\t%s\t%s\n",
					candidate.ID, candidate.Name, ttsutils.FormatFileSize(int64(candidate.MemoryBytes)))
			}

			err = writer.Flush()
			if err != nil {
				return err
			}

			if choice == "" {
				fmt.Fprintf(out, msgFmtCurrentDevice, detected.Current)

				return nil
			}

			applied, err := pctx.Reconfigure(cmd.Context(), choice)
			fmt.Fprintf(out, msgFmtSelectedDevice, applied)

			return err
		},
	}

	cmd.Flags().StringVar(&choice, flagSelect, "", flagSelectDesc)

	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the synthesis service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pctx, cleanup, err := a.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			err = pctx.Dispatcher.Reinit(cmd.Context(), pctx.Devices.Current())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), msgServiceHealthy)

			return nil
		},
	}
}
