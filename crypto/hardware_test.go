package crypto

import "testing"

func TestHasAESHardwareSupportDoesNotPanic(t *testing.T) {
	_ = HasAESHardwareSupport()
}

func TestDefaultCipherNeverDowngradesSilently(t *testing.T) {
	// Without opting in, the policy must always pick XChaCha20-Poly1305,
	// regardless of hardware support.
	if c := DefaultCipher(false); c != CipherXChaCha20Poly1305 {
		t.Fatalf("DefaultCipher(false) = %v, want XChaCha20-Poly1305", c)
	}

	c := DefaultCipher(true)
	if HasAESHardwareSupport() {
		if c != CipherAES256GCMExt {
			t.Fatalf("DefaultCipher(true) with AES-NI = %v, want AES-256-GCM-ext", c)
		}
	} else if c != CipherXChaCha20Poly1305 {
		t.Fatalf("DefaultCipher(true) without AES-NI = %v, want XChaCha20-Poly1305", c)
	}
}

func TestHardwareInfoHasRequiredFields(t *testing.T) {
	info := HardwareInfo()
	for _, field := range []string{"aes_hardware_support", "architecture", "goos", "go_version"} {
		if _, ok := info[field]; !ok {
			t.Fatalf("HardwareInfo() missing field %q", field)
		}
	}
}
