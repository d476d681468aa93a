package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func runCapture(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestRegisterPrintsKeysAndDestHash(t *testing.T) {
	out, stderr, code := runCapture(t, "register")
	if code != 0 {
		t.Fatalf("register exited %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(out, "destination_hash:") || !strings.Contains(out, "private_key:") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestPackProducesWireAndHash(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	destHash := sha256.Sum256([]byte("destination"))

	out, stderr, code := runCapture(t, "pack",
		"-identity", hex.EncodeToString(priv),
		"-dest", hex.EncodeToString(destHash[:16]),
		"-content", "hello world",
		"-title", "greeting",
	)
	if code != 0 {
		t.Fatalf("pack exited %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(out, "wire:") || !strings.Contains(out, "hash:") || !strings.Contains(out, "representation:") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestPackRejectsBadDestHash(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	_, stderr, code := runCapture(t, "pack",
		"-identity", hex.EncodeToString(priv),
		"-dest", "not-hex",
	)
	if code == 0 {
		t.Fatalf("expected nonzero exit, stderr=%s", stderr)
	}
}

func TestStampFindsQualifyingCandidate(t *testing.T) {
	id := sha256.Sum256([]byte("transient-id"))
	out, stderr, code := runCapture(t, "stamp",
		"-id", hex.EncodeToString(id[:]),
		"-cost", "1",
		"-workers", "2",
		"-timeout", "5s",
	)
	if code != 0 {
		t.Fatalf("stamp exited %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(out, "stamp:") || !strings.Contains(out, "value:") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNodeAddActivateList(t *testing.T) {
	dataDir := t.TempDir()
	destHash := sha256.Sum256([]byte("propagation-node"))
	destHex := hex.EncodeToString(destHash[:16])

	_, stderr, code := runCapture(t, "node", "add",
		"-datadir", dataDir,
		"-dest", destHex,
		"-name", "relay-1",
		"-stamp-cost", "4",
		"-flexibility", "1",
	)
	if code != 0 {
		t.Fatalf("node add exited %d, stderr=%s", code, stderr)
	}

	_, stderr, code = runCapture(t, "node", "activate", "-datadir", dataDir, "-dest", destHex)
	if code != 0 {
		t.Fatalf("node activate exited %d, stderr=%s", code, stderr)
	}

	out, stderr, code := runCapture(t, "node", "list", "-datadir", dataDir)
	if code != 0 {
		t.Fatalf("node list exited %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(out, destHex) || !strings.Contains(out, "relay-1") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestUnknownSubcommand(t *testing.T) {
	_, stderr, code := runCapture(t, "bogus")
	if code == 0 {
		t.Fatalf("expected nonzero exit, stderr=%s", stderr)
	}
}
