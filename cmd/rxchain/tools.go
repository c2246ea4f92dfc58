package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/internal/node"
	"github.com/drfirst/rxchain/pkg/merkle"
)

var errNotListed = errors.New("member is not in the whitelist")

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Compute whitelist roots and membership proofs offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "root ADDRESS...",
		Short: "Print the merkle root committing to the addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := node.ParseAddresses(args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), roles.BuildTree(members).Root().Hex())
			return err
		},
	})

	var member string
	proofCmd := &cobra.Command{
		Use:   "proof --member ADDRESS ADDRESS...",
		Short: "Print the membership proof of one address as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := node.ParseAddresses(args)
			if err != nil {
				return err
			}
			addr, err := ledger.ParseAddress(member)
			if err != nil {
				return fmt.Errorf("--member: %w", err)
			}
			tree := roles.BuildTree(members)
			leaf := roles.Leaf(addr)
			proof, ok := tree.Proof(leaf)
			if !ok {
				return fmt.Errorf("%w: %s", errNotListed, addr.Hex())
			}
			if proof == nil {
				proof = []merkle.Hash{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"root":  tree.Root(),
				"leaf":  leaf,
				"proof": proof,
			})
		},
	}
	proofCmd.Flags().StringVar(&member, "member", "", "address to prove")
	_ = proofCmd.MarkFlagRequired("member")
	cmd.AddCommand(proofCmd)

	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token ADDRESS",
		Short: "Issue a wallet token for an address using the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			addr, err := ledger.ParseAddress(args[0])
			if err != nil {
				return err
			}
			auth := authConfig(cfg)
			if ttl > 0 {
				auth.TTL = ttl
			}
			token, err := middleware.IssueToken(auth, addr, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; defaults to auth.token_ttl")
	return cmd
}
