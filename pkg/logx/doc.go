// Package logx is a thin structured logging layer over zerolog.
//
// It exists so components depend on a tiny, stable API (Logger + Field
// helpers) while sinks and levels can be swapped at runtime via Service.Apply
// without re-threading a new logger through the whole process.
//
// The zero Logger value is a safe no-op, so libraries can accept a Logger
// field and never nil-check it.
package logx
