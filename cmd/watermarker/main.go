package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-watermarker/config"
	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/verify"
	"github.com/wippyai/wasm-watermarker/wasm"
	"github.com/wippyai/wasm-watermarker/watermark"
)

var (
	configPath string
	verbose    bool

	payloadFlag string
	methodFlags []string
	chunkSize   int
	outputPath  string
	verifyFlag  bool
	hexOutput   bool
	quiet       bool

	cfg *config.Config
	log *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "watermarker",
		Short:         "Embed and extract watermarks in WebAssembly modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}

	embedCmd = &cobra.Command{
		Use:   "embed <in.wasm>",
		Short: "Embed a watermark into a module",
		Args:  cobra.ExactArgs(1),
		RunE:  runEmbed,
	}

	extractCmd = &cobra.Command{
		Use:   "extract <in.wasm>",
		Short: "Extract a watermark from a module",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}

	statCmd = &cobra.Command{
		Use:   "stat <in.wasm>",
		Short: "Report the watermark capacity of a module",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect <in.wasm>",
		Short: "Explore watermark methods interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(args[0], cfg)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSliceVarP(&methodFlags, "methods", "m", nil,
		"Watermarking methods, in order (export-ordering, export-reordering, function-ordering, function-reordering, operand-swapping)")
	rootCmd.PersistentFlags().IntVarP(&chunkSize, "chunk-size", "c", 0, "Permutation chunk size (2-20)")

	embedCmd.Flags().StringVarP(&payloadFlag, "watermark", "w", "", "Watermark payload")
	embedCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (stdout if empty)")
	embedCmd.Flags().BoolVar(&verifyFlag, "verify", false, "Validate the result and compare its behavior with the input")

	extractCmd.Flags().BoolVar(&hexOutput, "hex", false, "Print the payload as hex")

	statCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the total capacity in bits")

	rootCmd.AddCommand(embedCmd, extractCmd, statCmd, inspectCmd)
}

func main() {
	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and installs the
// loggers.
func setup(cmd *cobra.Command) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("methods") {
		cfg.Methods = methodFlags
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = chunkSize
	}
	if flags.Changed("watermark") {
		cfg.Watermark = payloadFlag
	}
	if flags.Changed("verify") {
		cfg.Verify = verifyFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = newLogger(verbose, cfg.LogLevel)
	if err != nil {
		return err
	}
	watermark.SetLogger(log.Named("watermark"))
	verify.SetLogger(log.Named("verify"))
	return nil
}

func newLogger(verbose bool, level string) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	return zc.Build()
}

func readModule(path string) ([]byte, *wasm.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "parse "+path)
	}
	return data, m, nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	if cfg.Watermark == "" {
		return errors.InvalidInput(errors.PhaseEmbed, "watermark is empty; pass -w or set watermark in the config file")
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	original, m, err := readModule(args[0])
	if err != nil {
		return err
	}

	res, err := watermark.Embed(m, []byte(cfg.Watermark), opts)
	if err != nil {
		return err
	}
	for _, mb := range res.Methods {
		log.Info("embedded", zap.String("method", string(mb.Method)), zap.Int("bits", mb.Bits))
	}
	fmt.Fprintf(os.Stderr, "embedded %d bits (payload %d bits)\n", res.Bits, len(cfg.Watermark)*8)

	out := m.Encode()
	if cfg.Verify {
		if err := verifyOutput(cmd.Context(), original, out); err != nil {
			return err
		}
	}
	return writeOutput(out)
}

func verifyOutput(ctx context.Context, original, marked []byte) error {
	if err := verify.Validate(ctx, marked, nil); err != nil {
		return err
	}

	report, err := verify.Equivalent(ctx, original, marked, nil)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindUnsupported {
			log.Warn("equivalence check skipped", zap.Error(err))
			fmt.Fprintf(os.Stderr, "verify: valid, equivalence skipped (%s)\n", e.Detail)
			return nil
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "verify: valid, %s\n", report.Summary())
	return nil
}

func writeOutput(data []byte) error {
	if outputPath != "" && outputPath != "-" {
		return os.WriteFile(outputPath, data, 0o644)
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.InvalidInput(errors.PhaseEncode, "refusing to write binary output to a terminal; use -o")
	}
	_, err := os.Stdout.Write(data)
	return err
}

func runExtract(cmd *cobra.Command, args []string) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	_, m, err := readModule(args[0])
	if err != nil {
		return err
	}

	res, err := watermark.Extract(m, opts)
	if err != nil {
		return err
	}
	for _, mb := range res.Methods {
		log.Info("extracted", zap.String("method", string(mb.Method)), zap.Int("bits", mb.Bits))
	}

	return printPayload(os.Stdout, res.Payload, hexOutput)
}

func printPayload(w io.Writer, payload []byte, asHex bool) error {
	if asHex {
		_, err := fmt.Fprintln(w, hex.EncodeToString(payload))
		return err
	}
	_, err := fmt.Fprintln(w, printable(payload))
	return err
}

// printable replaces control and non-ASCII bytes with '.'.
func printable(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if c < 0x20 || c > 0x7E {
			c = '.'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func runStat(cmd *cobra.Command, args []string) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	_, m, err := readModule(args[0])
	if err != nil {
		return err
	}

	st, err := watermark.Stat(m, cfg.ChunkSize)
	if err != nil {
		return err
	}

	total := 0
	for _, method := range opts.Methods {
		total += st.Capacity[method]
	}
	if quiet {
		fmt.Println(total)
		return nil
	}
	fmt.Print(st.String())
	fmt.Printf("total (%s): %d bits\n", cfg.MethodList(), total)
	return nil
}
