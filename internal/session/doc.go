// Package session classifies instants into US equity market sessions.
//
// Eastern time is derived from the UTC instant with fixed offsets. The DST
// boundary Sundays are computed per year rather than read from a timezone
// database.
package session
