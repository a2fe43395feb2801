package crypto

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport reports whether the running CPU has a hardware AES
// instruction set, following the design note in spec.md §9: this is a
// runtime capability query, never a silent downgrade. Callers decide what
// to do with the answer; DefaultCipher below is the module's own policy.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// DefaultCipher picks CipherAES256GCMExt only when the caller opts in and
// hardware support is present; otherwise it falls back to
// CipherXChaCha20Poly1305, which is fast in pure software.
func DefaultCipher(preferAES bool) Cipher {
	if preferAES && HasAESHardwareSupport() {
		return CipherAES256GCMExt
	}
	return CipherXChaCha20Poly1305
}

// HardwareInfo reports diagnostic detail about acceleration support.
// Repo.Info does not include it.
func HardwareInfo() map[string]any {
	return map[string]any{
		"aes_hardware_support": HasAESHardwareSupport(),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
	}
}
