package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vaultkernel/core"
	"vaultkernel/core/guest"
	"vaultkernel/core/native"
	"vaultkernel/pkg/config"
)

// runCmd executes one transaction manifest against a fresh kernel and
// prints the resulting receipt.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [manifest]",
		Short: "execute a transaction manifest and print the receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proofsPath, _ := cmd.Flags().GetString("proofs")
			sigsPath, _ := cmd.Flags().GetString("signatures")
			envName, _ := cmd.Flags().GetString("env")
			outPath, _ := cmd.Flags().GetString("out")

			if _, err := config.Load(envName); err != nil {
				log.WithError(err).Warn("config load failed, continuing with defaults")
			}

			mf, raw, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			proofs, err := loadProofs(proofsPath)
			if err != nil {
				return err
			}
			sigs, err := loadSignatures(sigsPath)
			if err != nil {
				return err
			}

			receipt := execute(raw, mf.Instructions, proofs, sigs)
			return writeReceipt(receipt, outPath)
		},
	}
	cmd.Flags().String("proofs", "", "path to a JSON file of auth-zone proofs presented to the transaction")
	cmd.Flags().String("signatures", "", "path to a JSON file of signatures verified into virtual signer badges")
	cmd.Flags().String("env", "", "environment overlay passed to the config loader")
	cmd.Flags().String("out", "", "write the receipt JSON here instead of stdout")
	return cmd
}

// execute runs one manifest end to end: derive the deterministic transaction
// hash from the manifest bytes, construct a kernel wired with every native
// blueprint and the guest interpreter, push the root frame with the
// presented proofs, and run the instructions through the transaction
// processor.
func execute(manifestBytes []byte, instructions []core.Instruction, proofs []core.ProofState, sigs []core.TransactionSignature) *core.Receipt {
	txHash := sha256.Sum256(manifestBytes)

	natives := core.NewNativeDispatchTable()
	native.RegisterAll(natives)

	k := core.NewKernel(txHash, core.NewMemStore(), natives, guest.New())

	root, err := k.PushRootFrame(proofs, config.AppConfig.Fee.GenesisReserve, sigs...)
	if err != nil {
		return &core.Receipt{Status: false, Error: err}
	}

	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		return &core.Receipt{Status: false, Error: err}
	}

	return proc.Execute(instructions)
}

func writeReceipt(receipt *core.Receipt, outPath string) error {
	view := toReceiptView(receipt)
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(outPath, append(data, '\n'), 0o644)
}
