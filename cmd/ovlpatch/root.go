package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	"github.com/pboyd/ovlpatch"
	"github.com/pboyd/ovlpatch/internal/log"
)

func RootCmd() *cobra.Command {
	opts := struct {
		Debug bool
	}{
		env.Bool("OVLPATCH_DEBUG"),
	}

	rootCmd := &cobra.Command{
		Use:          "ovlpatch",
		Short:        "Patch and extend ARM code overlays",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Debug {
				log.SetDebug(os.Stderr)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", opts.Debug, "enable debug logging")

	rootCmd.AddCommand(insertCmd())
	rootCmd.AddCommand(symbolsCmd())
	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(disasmCmd())

	return rootCmd
}

func insertCmd() *cobra.Command {
	opts := struct {
		Metadata   string
		Out        string
		OverlayDir string
		Make       string
		BuildDir   string
	}{
		Make:     env.Str("OVLPATCH_MAKE", "make"),
		BuildDir: env.Str("OVLPATCH_BUILD_DIR", ovlpatch.DefaultBuildDir),
	}

	insertCmd := &cobra.Command{
		Use:   "insert <project-root> <overlay-file>",
		Short: "Build the overlay's new code and patch it in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, overlayPath := args[0], args[1]

			md, err := ovlpatch.OpenFileMetadata(opts.Metadata)
			if err != nil {
				return err
			}

			o, err := ovlpatch.LoadOverlay(overlayPath, md)
			if err != nil {
				return err
			}

			overlayDir := opts.OverlayDir
			if overlayDir == "" {
				base := filepath.Base(overlayPath)
				overlayDir = strings.TrimSuffix(base, filepath.Ext(base))
			}

			tc := &ovlpatch.MakeToolchain{
				Command: strings.Fields(opts.Make),
				Dir:     root,
			}
			err = ovlpatch.Insert(o, tc, ovlpatch.InsertOptions{
				Root:   root,
				Layout: ovlpatch.Layout{Overlay: overlayDir, Build: opts.BuildDir},
			})
			if err != nil {
				return err
			}

			out := opts.Out
			if out == "" {
				out = overlayPath
			}
			if err := o.Save(out); err != nil {
				return err
			}
			return md.Save()
		},
	}

	insertCmd.Flags().StringVarP(&opts.Metadata, "metadata", "m", "", "overlay metadata file (required)")
	insertCmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default: overwrite the overlay)")
	insertCmd.Flags().StringVar(&opts.OverlayDir, "overlay-dir", "", "overlay source directory under the project root (default: overlay file name)")
	insertCmd.Flags().StringVar(&opts.Make, "make", opts.Make, "toolchain command")
	insertCmd.Flags().StringVar(&opts.BuildDir, "build-dir", opts.BuildDir, "scratch directory under the project root")
	insertCmd.MarkFlagRequired("metadata")

	return insertCmd
}

func symbolsCmd() *cobra.Command {
	opts := struct {
		Hooks   bool
		Exports bool
	}{}

	symbolsCmd := &cobra.Command{
		Use:   "symbols <sym-file>",
		Short: "List the .text symbols of a symbol listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syms, err := ovlpatch.ReadSymbolFile(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch {
			case opts.Hooks:
				hooks, err := ovlpatch.Hooks(syms)
				if err != nil {
					return err
				}
				for _, h := range hooks {
					fmt.Fprintf(w, "0x%08X -> 0x%08X\t%08X\n", h.Site, h.Target, ovlpatch.EncodeBL(h.Site, h.Target))
				}
			case opts.Exports:
				return ovlpatch.WriteSymbolExports(w, syms)
			default:
				for _, sym := range syms {
					fmt.Fprintf(w, "0x%08X\t%s\n", sym.Address, sym.Name)
				}
			}
			return nil
		},
	}

	symbolsCmd.Flags().BoolVar(&opts.Hooks, "hooks", false, "list hook patches instead of symbols")
	symbolsCmd.Flags().BoolVar(&opts.Exports, "exports", false, "print the linker symbol exports")

	return symbolsCmd
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <site> <target>",
		Short: "Encode a BL instruction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			target, err := parseAddress(args[1])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%08X\t% X\n", ovlpatch.EncodeBL(site, target), ovlpatch.EncodeBLBytes(site, target))
			return nil
		},
	}
}

func disasmCmd() *cobra.Command {
	opts := struct {
		Metadata string
	}{}

	disasmCmd := &cobra.Command{
		Use:   "disasm <overlay-file> <address> <count>",
		Short: "Disassemble part of an overlay",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := ovlpatch.OpenFileMetadata(opts.Metadata)
			if err != nil {
				return err
			}
			o, err := ovlpatch.LoadOverlay(args[0], md)
			if err != nil {
				return err
			}

			address, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid count %q: %w", args[2], err)
			}

			listing, err := ovlpatch.Disassemble(o, address, count)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), listing)
			return nil
		},
	}

	disasmCmd.Flags().StringVarP(&opts.Metadata, "metadata", "m", "", "overlay metadata file (required)")
	disasmCmd.MarkFlagRequired("metadata")

	return disasmCmd
}

// parseAddress parses a hex address with or without a 0x prefix.
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
