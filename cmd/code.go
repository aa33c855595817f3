// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/pkg/access"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Inspect or change the stored unlock code",
	Long: `Manage the unlock code kept in the local database.

The master loads the code at startup; a running master does not see changes
made here until it restarts.`,
}

var codeSetCmd = &cobra.Command{
	Use:   "set <digits>",
	Short: "Store a new unlock code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := access.ValidateCode(args[0], cfg.CodeLength); err != nil {
			return err
		}
		ctx := context.Background()
		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.SaveCode(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Code updated")
		return nil
	},
}

var codeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored code so the default applies again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.ClearCode(ctx); err != nil {
			return err
		}
		fmt.Println("Stored code cleared, default code active")
		return nil
	},
}

var codeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a code is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		_, err = st.LoadCode(ctx)
		switch {
		case errors.Is(err, access.ErrNoCode):
			fmt.Println("No stored code, default code active")
		case err != nil:
			return err
		default:
			fmt.Println("Stored code active")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(codeCmd)
	codeCmd.AddCommand(codeSetCmd, codeClearCmd, codeStatusCmd)
}
