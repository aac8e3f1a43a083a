package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vaultkernel/core"
)

// keygenCmd derives an owner-badge keypair from a BIP-39 mnemonic (or
// generates a fresh one) and prints the badge's resource address, for
// populating a proofs file fed to `txrunner run --proofs`.
func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "derive or generate an owner-badge keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, _ := cmd.Flags().GetString("mnemonic")
			account, _ := cmd.Flags().GetInt("account")
			index, _ := cmd.Flags().GetInt("index")

			var w *core.BadgeWallet
			var err error
			if mnemonic == "" {
				var generated string
				w, generated, err = core.NewRandomBadgeWallet(256)
				if err != nil {
					return err
				}
				fmt.Printf("mnemonic: %s\n", generated)
			} else {
				w, err = core.BadgeWalletFromMnemonic(mnemonic, "")
				if err != nil {
					return err
				}
			}

			addr, err := w.BadgeAddress(uint32(account), uint32(index))
			if err != nil {
				return err
			}
			fp, err := w.Fingerprint(uint32(account), uint32(index))
			if err != nil {
				return err
			}
			fmt.Printf("badge_address: %s\n", core.AddressHex(addr))
			fmt.Printf("fingerprint:   %s\n", fp)
			return nil
		},
	}
	cmd.Flags().String("mnemonic", "", "existing BIP-39 recovery phrase; generates a fresh one if omitted")
	cmd.Flags().Int("account", 0, "hardened account index")
	cmd.Flags().Int("index", 0, "hardened address index")
	return cmd
}
