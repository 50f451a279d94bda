// Package logx configures hearth's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Credentials (VAPID keys, broker tokens, DSNs) must never be passed as
// log fields.
package logx
