// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"
)

type claimsOutput struct {
	Subject   string   `json:"sub"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	TokenID   string   `json:"jti"`
	IssuedAt  string   `json:"iat"`
	ExpiresAt string   `json:"exp"`
}

func newTokenCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect access tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify ACCESS_TOKEN",
		Short: "Check an access token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, deps, func(_ context.Context, st *Stack) error {
				claims, err := st.Service.ValidateAccessToken(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, claimsOutput{
					Subject:   claims.Subject,
					Email:     claims.Email,
					Roles:     claims.Roles,
					TokenID:   claims.TokenID,
					IssuedAt:  formatTime(claims.IssuedAt),
					ExpiresAt: formatTime(claims.ExpiresAt),
				})
			})
		},
	})
	return cmd
}
