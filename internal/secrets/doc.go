// Package secrets detects and redacts secrets using the Gitleaks SDK.
//
// Every prompt sent to a model passes through Redact, and commits created on
// GitHub are refused when Check finds a secret in the committed content.
// Project (.gitleaks.toml) and user allowlists are merged with OR logic.
package secrets
