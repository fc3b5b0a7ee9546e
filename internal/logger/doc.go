// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console output to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (InfoKV, WarnKV, etc.).
//
// Builders and services accept a context and extract the logger from it, so
// each build logs under its own name and fields.
package logger
