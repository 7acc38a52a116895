// Package cli provides the interactive exam registration client.
//
// It wires configuration, the local database, the identity provider and the
// document store, then runs a REPL on top of the session controller. The
// presence stream of the provider drives sign-in: login and register only
// talk to the provider and wait for the session to reach SignedIn.
//
// Key features:
//   - Register (account, verification email, exam ranks) / Login / Logout
//   - Profile view and edits that are staged locally while offline
//   - Sync of pending changes and the token handoff to the companion site
//   - Premium code redemption
//   - Admin commands: user listing, stats, activation, notes, codes
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
