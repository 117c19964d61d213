// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

func haveCode(code string) OmegaMatcher {
	return WithTransform(func(err error) any {
		oopsErr, ok := oops.AsOops(err)
		if !ok {
			return nil
		}
		return oopsErr.Code()
	}, Equal(code))
}

var _ = Describe("Session lifecycle", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		f, err = buildFixture()
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("registration and login", func() {
		It("registers alice and logs them in with the counter cleared", func() {
			_, err := f.svc.Register(ctx, "alice", "P@ss1234", "alice@x.com", "")
			Expect(err).NotTo(HaveOccurred())

			_, err = f.svc.Login(ctx, "alice", "wrong-pass", "")
			Expect(err).To(haveCode(auth.CodeInvalidCredentials))

			res, err := f.svc.Login(ctx, "alice", "P@ss1234", "")
			Expect(err).NotTo(HaveOccurred())

			account, err := f.store.Accounts().GetByID(ctx, res.AccountID)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.FailedAttempts).To(BeZero())
		})
	})

	Describe("lockout", func() {
		BeforeEach(func() {
			_, err := f.svc.Register(ctx, "bob", "B0bsecret", "bob@x.com", "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses the correct password after five failures", func() {
			for range 5 {
				_, err := f.svc.Login(ctx, "bob", "wrong", "")
				Expect(err).To(haveCode(auth.CodeInvalidCredentials))
			}
			_, err := f.svc.Login(ctx, "bob", "B0bsecret", "")
			Expect(err).To(haveCode(auth.CodeTooManyAttempts))
		})

		It("refuses the correct password under the email too", func() {
			for range 5 {
				_, err := f.svc.Login(ctx, "bob", "wrong", "")
				Expect(err).To(haveCode(auth.CodeInvalidCredentials))
			}
			_, err := f.svc.Login(ctx, "bob@x.com", "B0bsecret", "")
			Expect(err).To(haveCode(auth.CodeTooManyAttempts))
		})

		It("does not move the counter while locked", func() {
			for range 7 {
				_, _ = f.svc.Login(ctx, "bob", "wrong", "")
			}
			n, err := f.store.Accounts().FailedAttempts(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(auth.MaxFailedAttempts))
		})
	})

	Describe("refresh rotation", func() {
		var login *auth.LoginResult

		BeforeEach(func() {
			_, err := f.svc.Register(ctx, "carol", "c4rolpass", "carol@x.com", "")
			Expect(err).NotTo(HaveOccurred())
			login, err = f.svc.Login(ctx, "carol", "c4rolpass", "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("links the old token to its successor and refuses it afterwards", func() {
			next, err := f.svc.Refresh(ctx, login.RefreshToken, "")
			Expect(err).NotTo(HaveOccurred())

			old, err := f.store.Tokens().GetByTokenHash(ctx, auth.HashToken(login.RefreshToken))
			Expect(err).NotTo(HaveOccurred())
			successor, err := f.store.Tokens().GetByTokenHash(ctx, auth.HashToken(next.RefreshToken))
			Expect(err).NotTo(HaveOccurred())
			Expect(old.Revoked).To(BeTrue())
			Expect(old.ReplacedByTokenID).NotTo(BeNil())
			Expect(*old.ReplacedByTokenID).To(Equal(successor.ID))

			_, err = f.svc.Refresh(ctx, login.RefreshToken, "")
			Expect(err).To(haveCode(auth.CodeTokenRevoked))
		})

		It("leaves no active token after revoke-all", func() {
			_, err := f.svc.RevokeAll(ctx, login.AccountID)
			Expect(err).NotTo(HaveOccurred())

			sessions, err := f.svc.ListSessions(ctx, login.AccountID)
			Expect(err).NotTo(HaveOccurred())
			for _, s := range sessions {
				Expect(s.State(f.clock.Now()).Kind).NotTo(Equal(auth.TokenActive))
			}
			_, err = f.svc.Refresh(ctx, login.RefreshToken, "")
			Expect(err).To(haveCode(auth.CodeTokenRevoked))
		})

		It("treats logout as idempotent", func() {
			for range 2 {
				ok, err := f.svc.Logout(ctx, login.RefreshToken)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			}
		})

		It("expires tokens after their TTL", func() {
			token, err := f.svc.Rotation().Validate(ctx, login.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(token.AccountID).To(Equal(login.AccountID))

			f.clock.Advance(auth.RefreshTokenTTL)
			_, err = f.svc.Rotation().Validate(ctx, login.RefreshToken)
			Expect(err).To(haveCode(auth.CodeTokenExpired))
		})
	})

	Describe("password reset", func() {
		It("answers an unknown email generically without sending mail", func() {
			res, err := f.svc.ForgotPassword(ctx, "nonexistent@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Message).To(Equal(auth.GenericResetMessage))
			Expect(f.mail.count()).To(BeZero())
		})

		It("rejects a wrong old password and keeps the real one", func() {
			_, err := f.svc.Register(ctx, "dave", "d4vepassword", "dave@x.com", "")
			Expect(err).NotTo(HaveOccurred())

			_, err = f.svc.ResetPassword(ctx, auth.ResetRequest{
				Email:       "dave@x.com",
				OldPassword: "wrong",
				NewPassword: "new",
			})
			Expect(err).To(haveCode(auth.CodeResetOldPasswordWrong))

			_, err = f.svc.Login(ctx, "dave", "d4vepassword", "")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
