// Package model holds the entity types shared across every component of
// the session core (spec §3). Types here are plain data — no behavior,
// no mutexes — the way the teacher's storage package defines storage.User,
// storage.RosterItem and friends as bare structs that other packages
// operate on.
package model
