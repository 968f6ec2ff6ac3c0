// Package password is the single source of truth for password hashing
// and password policy in tavolo.
//
// Hashing is bcrypt with a configurable cost factor (default 12).
// Policy (length bounds, optional weak-pattern rejection) is enforced at
// hash time; verification is constant time within bcrypt itself.
//
// Callers (identity) must not apply their own hashing parameters so that
// configuration cannot drift between packages.
package password
