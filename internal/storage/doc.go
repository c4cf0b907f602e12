// Package storage persists bosstimer state as small keyed JSON documents:
// the timer collection, the trigger history, and UI preferences.
package storage
