package volume

import (
	"context"
	"encoding/binary"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/storage"
)

// superBlockAD is the associated data bound into the super-block's AEAD
// envelope (spec.md §4.3); it distinguishes a super-block ciphertext from
// any other AEAD blob sealed under the same password key.
var superBlockAD = []byte{0xe9, 0xef, 0xf1, 0xfb}

const saltSize = 16

// SuperBlock is the msgpack body sealed inside each super-block arm.
type SuperBlock struct {
	Seq      uint64
	VolumeID [16]byte
	Version  uint32
	Key      []byte // storage key, itself already random; sealed by the password-derived key
	URI      string
	Compress bool
	Ctime    int64
	Mtime    int64
	RootID   [32]byte // repo layer's root directory Cow entity id; zero until repo.Init assigns one
	Payload  []byte   // reserved for caller-defined extension data (e.g. KMIP key-wrap handle)
}

// envelope is the on-disk super-block arm: salt || cost || cipher || AEAD(body).
type envelope struct {
	Salt   [saltSize]byte
	Cost   crypto.Cost
	Cipher crypto.Cipher
	Body   []byte // le_u64(len) || msgpack(SuperBlock), AEAD-sealed
}

func encodeEnvelope(e envelope) []byte {
	out := make([]byte, 0, saltSize+1+1+len(e.Body))
	out = append(out, e.Salt[:]...)
	out = append(out, e.Cost.Pack())
	out = append(out, byte(e.Cipher))
	out = append(out, e.Body...)
	return out
}

func decodeEnvelope(raw []byte) (envelope, error) {
	if len(raw) < saltSize+2 {
		return envelope{}, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.decodeEnvelope")
	}
	var e envelope
	copy(e.Salt[:], raw[:saltSize])
	cost, err := crypto.UnpackCost(raw[saltSize])
	if err != nil {
		return envelope{}, sealedfs.Wrap(sealedfs.KindInvalidSuperBlk, "volume.decodeEnvelope", err)
	}
	e.Cost = cost
	e.Cipher = crypto.Cipher(raw[saltSize+1])
	e.Body = raw[saltSize+2:]
	return e, nil
}

// SaveSuperBlock bumps seq and mtime (setting ctime on the first save)
// and writes the same envelope to both arms, sealed under the password
// key derived from the caller-supplied salt. It never draws a salt
// itself; the caller picks it and passes it on every save.
func SaveSuperBlock(ctx context.Context, backend storage.Backend, password []byte, cost crypto.Cost, cipher crypto.Cipher, salt [saltSize]byte, sb *SuperBlock, now int64) error {
	sb.Seq++
	sb.Mtime = now
	if sb.Ctime == 0 {
		sb.Ctime = now
	}

	plain, err := marshalMsgpack(sb)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "volume.SaveSuperBlock", err)
	}
	body := make([]byte, 8, 8+len(plain))
	binary.LittleEndian.PutUint64(body, uint64(len(plain)))
	body = append(body, plain...)

	pwKey := crypto.HashPwd(password, salt[:], cost)
	defer pwKey.Destroy()

	sealed, err := crypto.Encrypt(cipher, body, superBlockAD, pwKey)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindEncrypt, "volume.SaveSuperBlock", err)
	}
	raw := encodeEnvelope(envelope{Salt: salt, Cost: cost, Cipher: cipher, Body: sealed})

	for suffix := 0; suffix < 2; suffix++ {
		if err := backend.PutSuperBlock(ctx, suffix, raw); err != nil {
			return storage.WrapIO("volume.SaveSuperBlock", err)
		}
	}
	return nil
}

// LoadSuperBlock reads both arms; a missing or undecryptable arm is
// skipped and the other is used alone, while two readable arms must
// agree on seq. It returns the decoded body plus the cipher its
// envelope was sealed with (the same cipher repo.Open must hand to
// volume.New, since the body itself carries no cipher field: the cipher
// has to be readable before the body can be decrypted at all). A seq
// mismatch is InvalidSuperBlk; callers should follow up with
// RepairSuperBlock.
func LoadSuperBlock(ctx context.Context, backend storage.Backend, password []byte) (*SuperBlock, crypto.Cipher, error) {
	arms := make([]*SuperBlock, 2)
	var ciphers [2]crypto.Cipher
	for suffix := 0; suffix < 2; suffix++ {
		raw, err := backend.GetSuperBlock(ctx, suffix)
		if err != nil {
			if sealedfs.Is(err, sealedfs.KindNotFound) {
				continue
			}
			return nil, 0, storage.WrapIO("volume.LoadSuperBlock", err)
		}
		sb, cipher, err := decryptSuperBlockArm(raw, password)
		if err != nil {
			continue // unreadable arm treated as absent; the other arm may still agree
		}
		arms[suffix] = sb
		ciphers[suffix] = cipher
	}

	switch {
	case arms[0] == nil && arms[1] == nil:
		return nil, 0, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.LoadSuperBlock")
	case arms[0] == nil:
		return arms[1], ciphers[1], nil
	case arms[1] == nil:
		return arms[0], ciphers[0], nil
	case arms[0].Seq != arms[1].Seq:
		return nil, 0, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.LoadSuperBlock")
	default:
		return arms[0], ciphers[0], nil
	}
}

func decryptSuperBlockArm(raw []byte, password []byte) (*SuperBlock, crypto.Cipher, error) {
	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, 0, err
	}
	pwKey := crypto.HashPwd(password, e.Salt[:], e.Cost)
	defer pwKey.Destroy()

	body, err := crypto.Decrypt(e.Cipher, e.Body, superBlockAD, pwKey)
	if err != nil {
		return nil, 0, sealedfs.Wrap(sealedfs.KindDecrypt, "volume.decryptSuperBlockArm", err)
	}
	if len(body) < 8 {
		return nil, 0, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.decryptSuperBlockArm")
	}
	bodyLen := binary.LittleEndian.Uint64(body[:8])
	rest := body[8:]
	if uint64(len(rest)) < bodyLen {
		return nil, 0, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.decryptSuperBlockArm")
	}
	var sb SuperBlock
	if err := unmarshalMsgpack(rest[:bodyLen], &sb); err != nil {
		return nil, 0, sealedfs.Wrap(sealedfs.KindInvalidSuperBlk, "volume.decryptSuperBlockArm", err)
	}
	return &sb, e.Cipher, nil
}

// RepairSuperBlock re-reads both arms, picks whichever decrypts and, on a
// seq mismatch, has the higher sequence number, and rewrites the other arm
// to match it.
func RepairSuperBlock(ctx context.Context, backend storage.Backend, password []byte) (*SuperBlock, crypto.Cipher, error) {
	var arms [2]*SuperBlock
	var envs [2]envelope
	for suffix := 0; suffix < 2; suffix++ {
		raw, err := backend.GetSuperBlock(ctx, suffix)
		if err != nil {
			continue
		}
		e, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		sb, _, err := decryptSuperBlockArm(raw, password)
		if err != nil {
			continue
		}
		arms[suffix] = sb
		envs[suffix] = e
	}

	winner := 0
	switch {
	case arms[0] == nil && arms[1] == nil:
		return nil, 0, sealedfs.New(sealedfs.KindInvalidSuperBlk, "volume.RepairSuperBlock")
	case arms[0] == nil:
		winner = 1
	case arms[1] == nil:
		winner = 0
	case arms[1].Seq > arms[0].Seq:
		winner = 1
	default:
		winner = 0
	}

	loser := 1 - winner
	winnerSB := arms[winner]
	winnerEnv := envs[winner]

	pwKey := crypto.HashPwd(password, winnerEnv.Salt[:], winnerEnv.Cost)
	defer pwKey.Destroy()

	plain, err := marshalMsgpack(winnerSB)
	if err != nil {
		return nil, 0, sealedfs.Wrap(sealedfs.KindCorrupted, "volume.RepairSuperBlock", err)
	}
	body := make([]byte, 8, 8+len(plain))
	binary.LittleEndian.PutUint64(body, uint64(len(plain)))
	body = append(body, plain...)

	sealed, err := crypto.Encrypt(winnerEnv.Cipher, body, superBlockAD, pwKey)
	if err != nil {
		return nil, 0, sealedfs.Wrap(sealedfs.KindEncrypt, "volume.RepairSuperBlock", err)
	}
	raw := encodeEnvelope(envelope{Salt: winnerEnv.Salt, Cost: winnerEnv.Cost, Cipher: winnerEnv.Cipher, Body: sealed})
	if err := backend.PutSuperBlock(ctx, loser, raw); err != nil {
		return nil, 0, storage.WrapIO("volume.RepairSuperBlock", err)
	}
	return winnerSB, winnerEnv.Cipher, nil
}
