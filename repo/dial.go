package repo

import (
	"github.com/kenneth/sealedfs/storage"
	"github.com/kenneth/sealedfs/storage/faulty"
	"github.com/kenneth/sealedfs/storage/file"
	"github.com/kenneth/sealedfs/storage/mem"
	"github.com/kenneth/sealedfs/storage/rediskv"
	"github.com/kenneth/sealedfs/storage/remote"
	"github.com/kenneth/sealedfs/storage/sqlite"
)

// dial resolves a repository URI to a storage.Backend via storage.ParseURI
// (spec.md §6's scheme table). A faulty:// URI carries the backend it
// wraps in its "inner" query parameter, e.g. "faulty://?inner=mem://"
// wraps a fresh mem backend in storage/faulty for crash-injection tests.
func dial(rawURI string) (storage.Backend, error) {
	u, err := storage.ParseURI(rawURI)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case storage.SchemeMem:
		return mem.New(), nil
	case storage.SchemeFile:
		return file.New(u.Location), nil
	case storage.SchemeSQLite:
		return sqlite.New(u.Location), nil
	case storage.SchemeRedis:
		return rediskv.New(u.Location), nil
	case storage.SchemeZbox:
		return remote.New("http://" + u.Location), nil
	case storage.SchemeFaulty:
		inner, err := dial(u.Query.Get("inner"))
		if err != nil {
			return nil, err
		}
		return faulty.New(inner), nil
	default:
		return nil, storage.ErrInvalidURI("repo.dial")
	}
}
