// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/auth"
)

func newPasswordCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Password reset",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "forgot EMAIL",
		Short: "Email a password reset code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				res, err := st.Service.ForgotPassword(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Println(res.Message)
				return nil
			})
		},
	})

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset a password with a code or the old password",
		Long: `Reset a password. Either --code or --old-password is required. Without
--new-password a password is generated and emailed to the account.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")              //nolint:errcheck // flag is registered below
			code, _ := cmd.Flags().GetString("code")                //nolint:errcheck // flag is registered below
			oldPassword, _ := cmd.Flags().GetString("old-password") //nolint:errcheck // flag is registered below
			newPassword, err := readPassword(cmd, "new-password")
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				res, err := st.Service.ResetPassword(ctx, auth.ResetRequest{
					Email:       email,
					Code:        code,
					OldPassword: oldPassword,
					NewPassword: newPassword,
				})
				if err != nil {
					return err
				}
				cmd.Println(res.Message)
				return nil
			})
		},
	}
	reset.Flags().String("email", "", "account email")
	reset.Flags().String("code", "", "reset code from the email")
	reset.Flags().String("old-password", "", "current password")
	addPasswordFlags(reset, "new-password", "new password (empty = generate one)")
	_ = reset.MarkFlagRequired("email") //nolint:errcheck // flag exists
	cmd.AddCommand(reset)

	return cmd
}
