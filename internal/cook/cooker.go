// Package cook defines how targets are transformed into payloads and output
package cook

import (
	"context"
	"errors"

	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// ErrPrivateRecord is returned by Persist when output would reference a
// record that has not been merged into the authoritative store yet
var ErrPrivateRecord = errors.New("record not merged")

// Cooker transforms one target
type Cooker interface {
	// Cook stages the target's payloads through env and records its facts.
	Cook(ctx context.Context, job types.Job, env *Env) (*Result, error)

	// Persist writes the cooked output. Every record it references must be
	// canonical by the time it is called.
	Persist(ctx context.Context, job types.Job, res *Result, view metadata.View) error
}

// Result describes a cooked target
type Result struct {
	Job     types.Job
	Skipped bool
	Keys    []string
}

// Env is what a cooker may touch while cooking
type Env struct {
	View         metadata.View
	Stores       *content.Set
	DefaultStore string
}

// Stage writes a payload for key into store, or the default store when store is empty
func (e *Env) Stage(store, key string, p content.Payload) (metadata.Record, error) {
	if store == "" {
		store = e.DefaultStore
	}
	return e.Stores.Write(e.View, store, key, p)
}

// Drop forgets a record the target no longer produces
func (e *Env) Drop(key string) {
	e.View.Drop(key, e.Stores.Alignment())
}

// CheckCanonical returns ErrPrivateRecord if any key still points into a private store
func CheckCanonical(view metadata.View, keys []string) error {
	for _, key := range keys {
		rec, ok := view.Lookup(key)
		if !ok {
			continue
		}
		if rec.IsPrivate() {
			return &PrivateRecordError{Key: key, Owner: rec.Owner}
		}
	}
	return nil
}

// PrivateRecordError names the offending record
type PrivateRecordError struct {
	Key   string
	Owner string
}

func (e *PrivateRecordError) Error() string {
	return "record " + e.Key + " still owned by " + e.Owner + ": " + ErrPrivateRecord.Error()
}

// Unwrap returns ErrPrivateRecord
func (e *PrivateRecordError) Unwrap() error {
	return ErrPrivateRecord
}
