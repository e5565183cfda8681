package storage

// Package storage persists timer run history.
//
// It currently supports:
//   - Append-only run entries (one per fire/termination event)
//   - Bounded recent-run queries for diagnostics
//   - Retention pruning
