// Package auth provides passwordless sign-in through magic tokens and the
// administrative lifecycle of the accounts those tokens resolve to.
//
// Magic tokens:
//   - TokenCodec turns an identity and an issuance instant into an opaque
//     string. SignedCodec issues HS256 JWTs and is the default, Base64Codec
//     keeps the legacy base64("<email>:<epochMillis>") format readable.
//   - TokenVerifier decodes, applies the 24 hour validity window, resolves the
//     identity, refuses blocked accounts and, with a ReplayGuard, enforces
//     single use. The result tells the caller whether the identity lands on
//     the admin area or the regular one.
//   - MagicLinkService issues links for known accounts and hands them to a
//     Mailer.
//
// Account lifecycle:
//   - Accounts carry two independent flags, active and blocked. Blocked always
//     wins at authentication time, whatever the active flag says.
//   - AccountStateMachine changes one flag at a time under a per account lock
//     and a database transaction. Protected accounts refuse every mutation.
//   - PermissionAssigner replaces the permission set of an account as a whole,
//     validating every id against the catalog before anything is written.
//
// Activity sinks:
//   - ActivitySink receives lifecycle, permission and magic link events. Sinks
//     run best-effort (errors are logged) so you can forward to a database or
//     queue without blocking the request. See the activitymap package for a
//     transport neutral shape.
package auth
