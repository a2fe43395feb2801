// Package sealedfs is the module root: it holds the error taxonomy shared
// by every layer of the repository (crypto, storage, volume, armor, wal,
// trans, content, fnode, repo).
package sealedfs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error conditions named in the error-handling design.
// Each kind maps to exactly one condition; callers use errors.Is against
// the sentinel Kind values, or As against *Error to inspect Op/Cause.
type Kind int

const (
	_ Kind = iota

	// Integrity
	KindRefOverflow
	KindRefUnderflow
	KindInvalidCost
	KindInvalidCipher
	KindInvalidSuperBlk
	KindCorrupted
	KindWrongVersion
	KindNoEntity

	// Crypto
	KindInitCrypto
	KindNoAesHardware
	KindHashing
	KindEncrypt
	KindDecrypt

	// Transaction
	KindInTrans
	KindNotInTrans
	KindNoTrans
	KindUncompleted
	KindInUse

	// Content
	KindNoContent
	KindNoVersion

	// Filesystem
	KindInvalidArgument
	KindInvalidPath
	KindNotFound
	KindAlreadyExists
	KindIsRoot
	KindIsDir
	KindIsFile
	KindNotDir
	KindNotFile
	KindNotEmpty

	// Lifecycle
	KindReadOnly
	KindCannotRead
	KindCannotWrite
	KindNotWrite
	KindNotFinish
	KindClosed
	KindOpened
	KindInvalidUri

	// Backend / wrapped I/O
	KindRepoOpened
	KindRepoExists
	KindIO
)

var kindNames = map[Kind]string{
	KindRefOverflow:     "ref_overflow",
	KindRefUnderflow:    "ref_underflow",
	KindInvalidCost:     "invalid_cost",
	KindInvalidCipher:   "invalid_cipher",
	KindInvalidSuperBlk: "invalid_super_block",
	KindCorrupted:       "corrupted",
	KindWrongVersion:    "wrong_version",
	KindNoEntity:        "no_entity",
	KindInitCrypto:      "init_crypto",
	KindNoAesHardware:   "no_aes_hardware",
	KindHashing:         "hashing",
	KindEncrypt:         "encrypt",
	KindDecrypt:         "decrypt",
	KindInTrans:         "in_trans",
	KindNotInTrans:      "not_in_trans",
	KindNoTrans:         "no_trans",
	KindUncompleted:     "uncompleted",
	KindInUse:           "in_use",
	KindNoContent:       "no_content",
	KindNoVersion:       "no_version",
	KindInvalidArgument: "invalid_argument",
	KindInvalidPath:     "invalid_path",
	KindNotFound:        "not_found",
	KindAlreadyExists:   "already_exists",
	KindIsRoot:          "is_root",
	KindIsDir:           "is_dir",
	KindIsFile:          "is_file",
	KindNotDir:          "not_dir",
	KindNotFile:         "not_file",
	KindNotEmpty:        "not_empty",
	KindReadOnly:        "read_only",
	KindCannotRead:      "cannot_read",
	KindCannotWrite:     "cannot_write",
	KindNotWrite:        "not_write",
	KindNotFinish:       "not_finish",
	KindClosed:          "closed",
	KindOpened:          "opened",
	KindInvalidUri:      "invalid_uri",
	KindRepoOpened:      "repo_opened",
	KindRepoExists:      "repo_exists",
	KindIO:              "io",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the concrete error type returned by every sealedfs package.
// It carries a Kind, the operation that failed, and an optional wrapped
// cause (with a stack trace attached via github.com/pkg/errors).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, SomeKind) by comparing against a bare Kind
// value wrapped as an error via Kind.Sentinel(), and direct *Error-to-*Error
// comparison by Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == Kind(k)
	}
	if oe, ok := target.(*Error); ok {
		return e.Kind == oe.Kind
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Sentinel returns an error value usable with errors.Is(err, Kind.Sentinel()).
func (k Kind) Sentinel() error { return kindSentinel(k) }

// New builds an *Error with a stack trace rooted at the call site.
func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(kind.String())}
}

// Wrap attaches Kind/Op to an underlying cause, preserving its stack via
// pkg/errors if it doesn't already have one.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(cause)}
}

// Of reports the Kind of err, or 0 if err is not a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err is a sealedfs *Error of the given kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
