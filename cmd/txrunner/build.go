package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vaultkernel/core"
)

// buildCmd compiles a .wat blueprint source into the .wasm bytes a
// PUBLISH_PACKAGE_WITH_OWNER instruction's Args field expects, writing the
// compiled result into --out-dir (default: the current directory), also to
// --out if given, and printing its size and sha256 digest.
func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [source.wat]",
		Short: "compile a blueprint source file to WASM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("out-dir")
			if outDir == "" {
				outDir = "."
			}
			wasm, hash, err := core.CompileWASM(args[0], outDir)
			if err != nil {
				return err
			}
			outPath, _ := cmd.Flags().GetString("out")
			if outPath != "" {
				if err := os.WriteFile(outPath, wasm, 0o644); err != nil {
					return err
				}
			}
			fmt.Printf("bytes: %d\nsha256: %x\n", len(wasm), hash)
			return nil
		},
	}
	cmd.Flags().String("out-dir", "", "directory wat2wasm writes its intermediate output to")
	cmd.Flags().String("out", "", "also write the compiled bytes here")
	return cmd
}
