// Command sigstore-tool migrates and inspects dumped host store records.
//
// Usage:
//
//	sigstore-tool migrate-session --identity <b64> --registration-id <n> dump.json
//	sigstore-tool migrate-senderkey senderkey.json
//	sigstore-tool dump session.bin
package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatbridge/signal-store/internal/legacy"
	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigstore-tool",
		Short:         "Migrate and inspect Signal store records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateSessionCommand(), migrateSenderKeyCommand(), dumpCommand())
	return root
}

func migrateSessionCommand() *cobra.Command {
	var (
		identityB64    string
		registrationID uint32
		out            string
	)
	cmd := &cobra.Command{
		Use:   "migrate-session <legacy.json>",
		Short: "Convert a legacy JSON session dump to a canonical record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			identity, err := base64.StdEncoding.DecodeString(identityB64)
			if err != nil {
				return fmt.Errorf("decode --identity: %w", err)
			}
			rec, err := legacy.MigrateSession(data, protocol.NormalizeKey(identity), registrationID)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%s: not a legacy session document", args[0])
			}
			encoded, err := record.MarshalSession(rec)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, encoded)
		},
	}
	cmd.Flags().StringVar(&identityB64, "identity", "", "local identity public key, base64")
	cmd.Flags().Uint32Var(&registrationID, "registration-id", 0, "local registration id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("registration-id")
	return cmd
}

func migrateSenderKeyCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "migrate-senderkey <legacy.json>",
		Short: "Convert a legacy JSON sender-key array to a canonical record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rec, isLegacy, err := legacy.MigrateSenderKey(data)
			if err != nil {
				return err
			}
			if !isLegacy {
				return fmt.Errorf("%s: not a legacy sender-key array", args[0])
			}
			encoded, err := record.MarshalSenderKey(rec)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, encoded)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <record.bin>",
		Short: "Decode a canonical session record and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rec, err := record.UnmarshalSession(data)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "open session: %v\n", rec.HasOpenSession())
			fmt.Fprintf(w, "previous states: %d\n", len(rec.Previous))
			if s := rec.Current; s != nil {
				fmt.Fprintf(w, "version: %d\n", s.SessionVersion)
				fmt.Fprintf(w, "local registration id: %d\n", s.LocalRegistrationID)
				fmt.Fprintf(w, "remote registration id: %d\n", s.RemoteRegistrationID)
				fmt.Fprintf(w, "receiver chains: %d\n", len(s.ReceiverChains))
				if s.SenderChain != nil && s.SenderChain.ChainKey != nil {
					fmt.Fprintf(w, "sender chain index: %d\n", s.SenderChain.ChainKey.Index)
				}
			}
			return nil
		},
	}
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
