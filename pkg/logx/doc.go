// Package logx configures the reminder daemon's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The daemon reads its config once at startup, so unlike richer bot setups
// there is no runtime sink swapping: New() builds the root logger and the
// returned closer owns the optional log file.
package logx
