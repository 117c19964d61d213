// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements credential verification, token issuance, refresh
// token rotation, and password reset.
//
// # Domain Types
//
// Accounts are created with NewAccount, which validates the username and
// email. Refresh tokens are minted by TokenIssuer; only their sha256 is ever
// stored. RefreshToken.State derives the lifecycle state (Active, Rotated,
// Revoked, Expired) from the stored fields; every state but Active is terminal.
//
// # Components
//
//   - LoginThrottle - count-based lockout per normalized identifier
//   - CredentialVerifier - constant-time authentication against AccountRepository
//   - TokenIssuer - access token signing and refresh token minting
//   - RotationEngine - single-use rotation, explicit and bulk revocation
//   - PasswordResetFlow - reset tickets in Cache and password replacement
//   - Service - the use cases built from the components above
//
// Services are created with NewService, which validates dependencies.
//
// # Errors
//
// Every error carries an oops code. Classify maps codes onto Kind and
// PublicMessage gives the text safe to show an end user. Repository
// implementations wrap ErrNotFound, ErrAlreadyExists and ErrAlreadyRevoked
// without a code of their own.
package auth
