package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layer-3/murmur/adapters/tokenizer"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/ports"
)

var errNoWallet = errors.New("MURMUR_WALLET_KEY is not set")

func walletSigner() (*eth.LocalSigner, error) {
	if cfg.WalletKey == "" {
		return nil, errNoWallet
	}
	return eth.NewLocalSignerFromHex(cfg.WalletKey)
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the wallet address of the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := walletSigner()
			if err != nil {
				return err
			}
			address, err := signer.Address(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), address)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an API bearer token signed by the configured wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := walletSigner()
			if err != nil {
				return err
			}
			address, err := signer.Address(cmd.Context())
			if err != nil {
				return err
			}
			token, err := tokenizer.NewJWTAuthorizer(cfg.TokenTTL).Authorize(cmd.Context(), signer, address, ports.PurposeAPI)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
