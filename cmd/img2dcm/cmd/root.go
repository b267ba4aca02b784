// Package cmd holds the img2dcm command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrsinham/img2dcm/internal/config"
	"github.com/mrsinham/img2dcm/internal/convert"
	"github.com/mrsinham/img2dcm/internal/logging"
	"github.com/mrsinham/img2dcm/internal/match"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailures = 1 // at least one pair failed
	ExitFatal    = 2 // usage error, bad configuration or aborted run
)

// exitError carries a process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	root := NewRoot(ctx, version)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFatal
}

// NewRoot builds the img2dcm root command.
func NewRoot(ctx context.Context, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "img2dcm <inputDir> <outputDir>",
		Short: "Wrap raster images into DICOM files using reference DICOM metadata",
		Long: `img2dcm pairs every image under inputDir with the reference DICOM that
shares its filename stem, copies the reference metadata onto the image and
writes the result under outputDir, mirroring the input directory layout.
Each input directory becomes one new series.

Settings are read, lowest precedence first, from built-in defaults, the
--config YAML file, the .env file and IMG2DCM_* environment variables, and
finally the command-line flags.`,
		Example: `  img2dcm ./scans ./out
  img2dcm -i "**/*.jpg" -d "**/*.DCM" --exclude-tag PatientName ./scans ./out
  img2dcm --workers 4 --dicomdir --json-report report.json ./scans ./out`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], args[1])
		},
	}
	cmd.AddCommand(NewVersionCmd(ctx, version))

	f := cmd.Flags()
	f.StringP("inputImageFilter", "i", match.DefaultImagePattern, "Glob for images, relative to inputDir")
	f.StringP("inputDCMFilter", "d", match.DefaultDicomPattern, "Glob for reference DICOMs, relative to inputDir")
	f.StringArray("exclude-tag", nil, "Tag never copied from references, by name or (gggg,eeee) (repeatable)")
	f.Bool("replace-default-exclusions", false, "Exclude only the --exclude-tag tags, not the built-in set")
	f.String("unmatched", string(match.UnmatchedSkip), "Images without a reference: skip, ignore or error")
	f.Int("workers", 1, "Number of directories converted in parallel")
	f.Bool("copy-private", false, "Copy private (odd group) tags from references")
	f.Bool("grayscale", false, "Convert color images to grayscale")
	f.Bool("label", false, "Burn the reference name into each image")
	f.Bool("dicomdir", false, "Write a DICOMDIR index under outputDir")
	f.Bool("dry-run", false, "Report what would be written without writing")
	f.Bool("allow-failures", false, "Exit 0 even when some pairs failed")
	f.String("config", "", "Load settings from a YAML file")
	f.String("save-config", "", "Save the effective settings to a YAML file")
	f.String("env-file", ".env", "Load IMG2DCM_* variables from this file if it exists")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-file", "", "Also write JSON logs to this file, rotated by size")
	f.Bool("no-color", false, "Disable colored log output")
	f.String("json-report", "", "Write the run report as JSON to this file")
	return cmd
}

// NewVersionCmd prints the build version.
func NewVersionCmd(ctx context.Context, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the img2dcm version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "img2dcm %s\n", version)
		},
	}
}

func runConvert(cmd *cobra.Command, inputDir, outputDir string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	log, closer, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Console: cmd.ErrOrStderr(),
		NoColor: noColor,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	exclusions, err := cfg.Exclusions()
	if err != nil {
		return err
	}
	policy, err := match.ParseUnmatchedPolicy(cfg.Unmatched)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	report, runErr := convert.Run(cmd.Context(), convert.Options{
		InputRoot:     inputDir,
		OutputRoot:    outputDir,
		ImagePattern:  cfg.ImageFilter,
		DicomPattern:  cfg.DCMFilter,
		Exclusions:    exclusions,
		Unmatched:     policy,
		Workers:       cfg.Workers,
		CopyPrivate:   cfg.CopyPrivate,
		Grayscale:     cfg.Grayscale,
		Label:         cfg.Label,
		WriteDICOMDIR: cfg.DICOMDIR,
		DryRun:        dryRun,
		Logger:        log,
		ProgressCallback: func(completed, total int) {
			log.Debug().Int("completed", completed).Int("total", total).Msg("progress")
		},
	})
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Render())
		if path, _ := cmd.Flags().GetString("json-report"); path != "" {
			if err := report.WriteJSON(path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("report not written")
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if path, _ := cmd.Flags().GetString("save-config"); path != "" {
		if err := config.SaveToYAML(cfg, path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("configuration saved")
	}

	if report.HasFailures() && !cfg.AllowFailures {
		return &exitError{code: ExitFailures, err: fmt.Errorf("%d conversion(s) failed", len(report.Failed))}
	}
	return nil
}

// loadConfig layers defaults, the YAML file, the env file, the environment
// and explicitly set flags, then validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	cfg := config.Default()

	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.LoadFromYAML(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	envFile, _ := f.GetString("env-file")
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	applyFlags(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	changed := f.Changed

	if changed("inputImageFilter") {
		cfg.ImageFilter, _ = f.GetString("inputImageFilter")
	}
	if changed("inputDCMFilter") {
		cfg.DCMFilter, _ = f.GetString("inputDCMFilter")
	}
	if changed("exclude-tag") {
		cfg.ExcludeTags, _ = f.GetStringArray("exclude-tag")
	}
	if changed("unmatched") {
		cfg.Unmatched, _ = f.GetString("unmatched")
	}
	if changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if changed("log-file") {
		cfg.Log.File, _ = f.GetString("log-file")
	}

	for name, dst := range map[string]*bool{
		"replace-default-exclusions": &cfg.ReplaceDefaultExclusions,
		"copy-private":               &cfg.CopyPrivate,
		"grayscale":                  &cfg.Grayscale,
		"label":                      &cfg.Label,
		"dicomdir":                   &cfg.DICOMDIR,
		"allow-failures":             &cfg.AllowFailures,
	} {
		if changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
}
