// Package room manages rooms and their participants. A Room enforces its
// participant limit and fans messages out to members; the Manager is the
// registry of rooms and removes empty and idle rooms on a fixed interval.
package room
