// Package sqlite persists assessment runs, per-frame metric rows and
// daily decision rollups in the assessments database.
package sqlite
