// Package config parses a repository's options file: a HuJSON
// (JSON-with-comments) document covering KDF cost, cache byte budgets,
// the default file version limit, a chunker seed field (parsed and
// stored, not read by the chunker), and the backend URI, mirroring the teacher's environment/flag-
// driven config structs but collapsed into one Options struct suitable
// for an embedded library with no server-side flags.
package config

import (
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
)

// Options is the full set of knobs a repository can be opened or
// initialized with.
type Options struct {
	// URI is the storage backend location, e.g. "mem://", "file:///path",
	// "sqlite:///path/db.sqlite", "redis://host:6379/0".
	URI string `json:"uri"`

	// Cipher selects the AEAD used for every frame, super-block, and
	// armored entity. Validate accepts only the two defined ciphers and
	// rejects zero; Default() fills in crypto.DefaultCipher(false).
	Cipher crypto.Cipher `json:"cipher,omitempty"`

	// CostOps/CostMem select the Argon2id password-hash cost. Validate
	// rejects any pair crypto.UnpackCost rejects, zero included;
	// Default() fills in crypto.DefaultCost.
	CostOps crypto.OpsCost `json:"cost_ops,omitempty"`
	CostMem crypto.MemCost `json:"cost_mem,omitempty"`

	// DefaultVersionLimit is the version_limit a newly-created file gets
	// when the caller doesn't specify one (spec.md §3, 1..=255).
	DefaultVersionLimit uint8 `json:"default_version_limit,omitempty"`

	// FrameCacheBudgetBytes/SegmentCacheBudgetBytes/FnodeCacheBudgetBytes
	// bound the byte size of each named LRU cache (spec.md §4.12).
	FrameCacheBudgetBytes   int64 `json:"frame_cache_budget_bytes,omitempty"`
	SegmentCacheBudgetBytes int64 `json:"segment_cache_budget_bytes,omitempty"`
	FnodeCacheBudgetBytes   int64 `json:"fnode_cache_budget_bytes,omitempty"`

	// ChunkerMatrixSeed is parsed and stored only. The content chunker
	// does not read it: it always draws its substitution matrix from
	// crypto/rand, so segmentation is not reproducible across processes.
	ChunkerMatrixSeed int64 `json:"chunker_matrix_seed,omitempty"`

	// Compress turns on the optional zstd sidecar compression stream over
	// every volume frame before it is sealed (volume/compress.go). Off by
	// default: compressibility varies wildly with already-deduplicated,
	// already-encrypted-looking chunk data, so this is opt-in per
	// repository rather than assumed.
	Compress bool `json:"compress,omitempty"`
}

// Default returns the options a freshly created repository uses when
// none are supplied.
func Default() Options {
	return Options{
		URI:                     "mem://",
		Cipher:                  crypto.DefaultCipher(false),
		CostOps:                 crypto.DefaultCost.Ops,
		CostMem:                 crypto.DefaultCost.Mem,
		DefaultVersionLimit:     8,
		FrameCacheBudgetBytes:   64 * 1024 * 1024,
		SegmentCacheBudgetBytes: 64 * 1024 * 1024,
		FnodeCacheBudgetBytes:   16 * 1024 * 1024,
	}
}

// Load reads and parses a HuJSON options file at path, applying its
// fields over Default().
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, sealedfs.Wrap(sealedfs.KindInvalidArgument, "config.Load", err)
	}
	return Parse(data)
}

// Parse standardizes a HuJSON document to plain JSON and unmarshals it
// over Default(), the same two-step the teacher's config package uses
// (hujson.Standardize, then encoding/json.Unmarshal).
func Parse(data []byte) (Options, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Options{}, sealedfs.Wrap(sealedfs.KindInvalidArgument, "config.Parse", err)
	}
	opts := Default()
	if err := json.Unmarshal(std, &opts); err != nil {
		return Options{}, sealedfs.Wrap(sealedfs.KindInvalidArgument, "config.Parse", err)
	}
	return opts, opts.Validate()
}

// Validate rejects option combinations the rest of the module can't
// tolerate.
func (o Options) Validate() error {
	if o.URI == "" {
		return sealedfs.New(sealedfs.KindInvalidUri, "config.Options.Validate")
	}
	if o.DefaultVersionLimit == 0 {
		return sealedfs.New(sealedfs.KindInvalidArgument, "config.Options.Validate")
	}
	switch o.Cipher {
	case crypto.CipherXChaCha20Poly1305, crypto.CipherAES256GCMExt:
	default:
		return sealedfs.New(sealedfs.KindInvalidCipher, "config.Options.Validate")
	}
	if _, err := crypto.UnpackCost(crypto.Cost{Ops: o.CostOps, Mem: o.CostMem}.Pack()); err != nil {
		return err
	}
	return nil
}

// Cost returns the parsed Argon2id cost parameters.
func (o Options) Cost() crypto.Cost {
	return crypto.Cost{Ops: o.CostOps, Mem: o.CostMem}
}
