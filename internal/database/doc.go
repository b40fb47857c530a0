// Package database connects to the optional PostgreSQL history database
// and creates the price_snapshots table the writer fills.
package database
