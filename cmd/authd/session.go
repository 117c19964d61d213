// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

type tokensOutput struct {
	AccountID    string   `json:"account_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    string   `json:"expires_at"`
}

type sessionOutput struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	IssuedAt     string `json:"issued_at"`
	ExpiresAt    string `json:"expires_at"`
	RevokeReason string `json:"revoke_reason,omitempty"`
	ReplacedBy   string `json:"replaced_by,omitempty"`
	CreatedByIP  string `json:"created_by_ip,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newSessionCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Log in, refresh, log out and list sessions",
	}

	login := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and issue a token pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identifier, _ := cmd.Flags().GetString("identifier") //nolint:errcheck // flag is registered below
			ip, _ := cmd.Flags().GetString("ip")                 //nolint:errcheck // flag is registered below
			password, err := readPassword(cmd, "password")
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				res, err := st.Service.Login(ctx, identifier, password, ip)
				if err != nil {
					return err
				}
				return printJSON(cmd, tokensOutput{
					AccountID:    res.AccountID.String(),
					Roles:        res.Roles,
					AccessToken:  res.AccessToken,
					RefreshToken: res.RefreshToken,
					ExpiresAt:    formatTime(res.ExpiresAt),
				})
			})
		},
	}
	login.Flags().String("identifier", "", "username or email")
	login.Flags().String("ip", "", "client IP recorded on the refresh token")
	addPasswordFlags(login, "password", "account password")
	_ = login.MarkFlagRequired("identifier") //nolint:errcheck // flag exists
	cmd.AddCommand(login)

	refresh := &cobra.Command{
		Use:   "refresh REFRESH_TOKEN",
		Short: "Rotate a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, _ := cmd.Flags().GetString("ip") //nolint:errcheck // flag is registered below
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				res, err := st.Service.Refresh(ctx, args[0], ip)
				if err != nil {
					return err
				}
				return printJSON(cmd, tokensOutput{
					AccessToken:  res.AccessToken,
					RefreshToken: res.RefreshToken,
					ExpiresAt:    formatTime(res.ExpiresAt),
				})
			})
		},
	}
	refresh.Flags().String("ip", "", "client IP recorded on the new refresh token")
	cmd.AddCommand(refresh)

	cmd.AddCommand(&cobra.Command{
		Use:   "logout REFRESH_TOKEN",
		Short: "Revoke a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				revoked, err := st.Service.Logout(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]bool{"revoked": revoked})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list ACCOUNT_ID",
		Short: "List the refresh tokens of an account, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withStack(cmd, deps, func(ctx context.Context, st *Stack) error {
				tokens, err := st.Service.ListSessions(ctx, id)
				if err != nil {
					return err
				}
				now := time.Now()
				out := make([]sessionOutput, 0, len(tokens))
				for _, t := range tokens {
					s := sessionOutput{
						ID:           t.ID.String(),
						State:        t.State(now).Kind.String(),
						IssuedAt:     formatTime(t.IssuedAt),
						ExpiresAt:    formatTime(t.ExpiresAt),
						RevokeReason: string(t.RevokeReason),
						CreatedByIP:  t.CreatedByIP,
					}
					if t.ReplacedByTokenID != nil {
						s.ReplacedBy = t.ReplacedByTokenID.String()
					}
					out = append(out, s)
				}
				return printJSON(cmd, out)
			})
		},
	})

	return cmd
}
