package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dvbrx/internal/config"
	"dvbrx/internal/fileutil"
	"dvbrx/internal/ipc"
)

func newBandsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	bandsCmd := &cobra.Command{
		Use:   "bands",
		Short: "List the band library and presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Bands()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Bands) == 0 {
					fmt.Fprintln(stdout, "Band library is empty")
					return nil
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"Name", "Source", "LO (kHz)", "Side", "Input", "GPIO"},
					bandRows(resp.Bands),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
				))
				fmt.Fprintln(stdout)
				if len(resp.Presets) > 0 {
					fmt.Fprintln(stdout)
					fmt.Fprint(stdout, renderTable([]string{"Preset", "Band", "Values"}, presetRows(resp.Presets), nil))
					fmt.Fprintln(stdout)
				}
				return nil
			})
		},
	}
	bandsCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	bandsCmd.AddCommand(newBandsImportCommand(ctx))
	return bandsCmd
}

func bandRows(bands []ipc.Band) [][]string {
	rows := make([][]string, 0, len(bands))
	for _, b := range bands {
		input := b.Port
		if b.Polarity != "" {
			input = strings.TrimSpace(input + " " + b.Polarity)
		}
		if b.Domain != "" {
			input = b.Domain
			if b.App != "" {
				input += "/" + b.App
			}
		}
		rows = append(rows, []string{
			b.Name,
			titleLabel(b.Source),
			strconv.Itoa(b.LOFreq),
			b.LOSide,
			input,
			strconv.Itoa(b.GPIO),
		})
	}
	return rows
}

func presetRows(presets []ipc.Preset) [][]string {
	rows := make([][]string, 0, len(presets))
	for _, p := range presets {
		values, err := config.ParamValues(p.Values)
		text := ""
		if err == nil {
			parts := make([]string, 0, len(values))
			for _, name := range slices.Sorted(maps.Keys(values)) {
				parts = append(parts, name+"="+values[name].String())
			}
			text = strings.Join(parts, " ")
		}
		rows = append(rows, []string{p.Name, p.Band, text})
	}
	return rows
}

func newBandsImportCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a TOML or YAML band library into the configured bands",
		Long: "Reads a band library file, merges it with the configured bands (entries with the same " +
			"name are replaced) and prints the merged [[bands]] tables. With --output the result is " +
			"written to a file instead; an existing file is kept as <file>.bak.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entries, err := config.ImportBands(args[0])
			if err != nil {
				return err
			}
			merged := *cfg
			merged.Bands = append([]config.BandEntry(nil), cfg.Bands...)
			merged.MergeBands(entries)
			if err := merged.Validate(); err != nil {
				return fmt.Errorf("merged library: %w", err)
			}
			data, err := config.EncodeBands(merged.Bands)
			if err != nil {
				return err
			}

			out := strings.TrimSpace(output)
			if out == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if out, err = config.ExpandPath(out); err != nil {
				return err
			}
			backup, err := fileutil.Backup(out)
			if err != nil {
				return err
			}
			if err := fileutil.WriteAtomic(out, data, 0o644); err != nil {
				return fmt.Errorf("write band library: %w", err)
			}
			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Imported %d bands (%d total) to %s\n", len(entries), len(merged.Bands), out)
			if backup != "" {
				fmt.Fprintf(stdout, "Previous file saved as %s\n", backup)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the merged library to this file")
	return cmd
}

type inlineBandFlags struct {
	source   string
	loFreq   int
	loSide   string
	gpio     int
	port     string
	polarity string
	domain   string
	app      string
}

func (f inlineBandFlags) entry() *config.BandEntry {
	if strings.TrimSpace(f.source) == "" {
		return nil
	}
	return &config.BandEntry{
		Name:     "inline",
		Source:   strings.TrimSpace(f.source),
		LOFreq:   f.loFreq,
		LOSide:   f.loSide,
		GPIO:     f.gpio,
		Port:     f.port,
		Polarity: f.polarity,
		Domain:   f.domain,
		App:      f.app,
	}
}

func newTuneCommand(ctx *commandContext) *cobra.Command {
	var band, preset string
	var sets []string
	var inline inlineBandFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune the receiver to a band, preset or inline band",
		Long: "Selects a library band (--band), a preset (--preset) or an inline band (--source and " +
			"friends). Parameter values are given with --set name=value; integer lists are comma separated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseSetFlags(sets)
			if err != nil {
				return err
			}
			req := ipc.TuneRequest{
				Band:   strings.TrimSpace(band),
				Preset: strings.TrimSpace(preset),
				Inline: inline.entry(),
				Values: values,
			}
			targets := 0
			for _, set := range []bool{req.Band != "", req.Preset != "", req.Inline != nil} {
				if set {
					targets++
				}
			}
			if targets != 1 {
				return errors.New("specify exactly one of --band, --preset or --source")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Tune(req)
				if err != nil {
					return fmt.Errorf("tune: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, resp.Receiver)
				}
				stdout := cmd.OutOrStdout()
				for _, line := range receiverLines(resp.Receiver, shouldColorize(stdout)) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&band, "band", "", "Library band name")
	flags.StringVar(&preset, "preset", "", "Preset name")
	flags.StringArrayVar(&sets, "set", nil, "Parameter value as name=value (repeatable)")
	flags.StringVar(&inline.source, "source", "", "Inline band source: longmynd, combituner or netstream")
	flags.IntVar(&inline.loFreq, "lo-freq", 0, "Inline band LO frequency in kHz")
	flags.StringVar(&inline.loSide, "lo-side", "", "Inline band LO side: low or high")
	flags.IntVar(&inline.gpio, "gpio", 0, "Inline band GPIO id")
	flags.StringVar(&inline.port, "port", "", "Inline band tuner input: top or bottom")
	flags.StringVar(&inline.polarity, "polarity", "", "Inline band LNB polarity")
	flags.StringVar(&inline.domain, "domain", "", "Inline network stream domain")
	flags.StringVar(&inline.app, "app", "", "Inline network stream app")
	flags.BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// parseSetFlags turns name=value pairs into tune values. A value made only of
// comma-separated integers becomes an integer list, a single integer stays a
// number and anything else is a string.
func parseSetFlags(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(sets))
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q: expected name=value", set)
		}
		values[name] = parseSetValue(strings.TrimSpace(raw))
	}
	return values, nil
}

func parseSetValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if !strings.Contains(raw, ",") {
		return raw
	}
	parts := strings.Split(raw, ",")
	ints := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return raw
		}
		ints = append(ints, n)
	}
	return ints
}

func newRestartSourceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the active source without changing the tune",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Restart()
				if err != nil {
					return fmt.Errorf("restart: %w", err)
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Restarted %s source\n", titleLabel(resp.Receiver.Source))
				for _, line := range receiverLines(resp.Receiver, shouldColorize(stdout)) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
}
