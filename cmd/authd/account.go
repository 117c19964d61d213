// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

type registerOutput struct {
	AccountID    string `json:"account_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log it in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, _ := cmd.Flags().GetString("username") //nolint:errcheck // flag is registered below
			email, _ := cmd.Flags().GetString("email")       //nolint:errcheck // flag is registered below
			ip, _ := cmd.Flags().GetString("ip")             //nolint:errcheck // flag is registered below
			password, err := readPassword(cmd, "password")
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				res, err := st.Service.Register(ctx, username, password, email, ip)
				if err != nil {
					return err
				}
				return printJSON(cmd, registerOutput{
					AccountID:    res.AccountID.String(),
					AccessToken:  res.AccessToken,
					RefreshToken: res.RefreshToken,
					ExpiresAt:    formatTime(res.ExpiresAt),
				})
			})
		},
	}
	register.Flags().String("username", "", "username (3-30 characters)")
	register.Flags().String("email", "", "email address")
	register.Flags().String("ip", "", "client IP recorded on the refresh token")
	addPasswordFlags(register, "password", "account password")
	_ = register.MarkFlagRequired("username") //nolint:errcheck // flag exists
	_ = register.MarkFlagRequired("email")    //nolint:errcheck // flag exists
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "unlock IDENTIFIER",
		Short: "Clear the failed login counter of a username or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				if err := st.Service.Unlock(ctx, args[0]); err != nil {
					return err
				}
				cmd.Println("unlocked")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-all ACCOUNT_ID",
		Short: "Revoke every refresh token of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				n, err := st.Service.RevokeAll(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"revoked": n})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify-email TOKEN",
		Short: "Confirm an email address with a verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				id, err := st.Service.VerifyEmail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"account_id": id.String(), "email_verified": "true"})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resend-verification ACCOUNT_ID",
		Short: "Send a new email verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				if err := st.Service.ResendVerification(ctx, id); err != nil {
					return err
				}
				cmd.Println("verification sent")
				return nil
			})
		},
	})

	return cmd
}

func parseAccountID(raw string) (ulid.ULID, error) {
	id, err := ulid.Parse(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ARGUMENT").With("account_id", raw).Wrap(err)
	}
	return id, nil
}
