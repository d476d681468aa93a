// Command lxmfctl is a debugging aid over the lxmf libraries, not a
// production server: it exercises identity generation, wire packing,
// stamp search, and propagation-node registry maintenance entirely offline,
// the way cmd/rubin-consensus-cli wraps consensus as a thin CLI rather than
// reimplementing it.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/message"
	"github.com/torlando-tech/reticulum-go/lxmf/propagation"
	"github.com/torlando-tech/reticulum-go/lxmf/stamp"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: lxmfctl <register|pack|stamp|node> [flags]")
		return 2
	}

	switch args[0] {
	case "register":
		return cmdRegister(args[1:], stdout, stderr)
	case "pack":
		return cmdPack(args[1:], stdout, stderr)
	case "stamp":
		return cmdStamp(args[1:], stdout, stderr)
	case "node":
		return cmdNode(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		return 2
	}
}

// destHashFromPublicKey derives a 16-byte destination hash from an identity
// public key, truncating SHA-256 the way the reference destination-naming
// scheme truncates a longer name hash down to the wire's fixed hash width.
func destHashFromPublicKey(pub ed25519.PublicKey) [16]byte {
	sum := sha256.Sum256(pub)
	var h [16]byte
	copy(h[:], sum[:16])
	return h
}

func cmdRegister(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Fprintf(stderr, "generate key: %v\n", err)
		return 1
	}
	destHash := destHashFromPublicKey(pub)
	fmt.Fprintf(stdout, "destination_hash: %s\n", hex.EncodeToString(destHash[:]))
	fmt.Fprintf(stdout, "public_key: %s\n", hex.EncodeToString(pub))
	fmt.Fprintf(stdout, "private_key: %s\n", hex.EncodeToString(priv))
	return 0
}

type flagIdentity struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (f flagIdentity) PublicKey() ed25519.PublicKey { return f.pub }
func (f flagIdentity) Sign(msg []byte) []byte        { return ed25519.Sign(f.priv, msg) }
func (f flagIdentity) Encrypt(p []byte) ([]byte, error) {
	return append([]byte(nil), p...), nil
}
func (f flagIdentity) Decrypt(c []byte) ([]byte, error) {
	return append([]byte(nil), c...), nil
}

func loadIdentity(privHex string) (transport.Identity, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("bad private key hex: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return flagIdentity{pub: pub, priv: priv}, nil
}

func parseHash16(s string) ([16]byte, error) {
	var h [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return h, fmt.Errorf("expected 32 hex chars (16 bytes), got %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func cmdPack(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	privHex := fs.String("identity", "", "sender private key, hex")
	destHex := fs.String("dest", "", "destination hash, hex (16 bytes)")
	srcHex := fs.String("source", "", "source hash, hex (16 bytes); defaults to the identity's own destination hash")
	content := fs.String("content", "", "message content")
	title := fs.String("title", "", "message title")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := loadIdentity(*privHex)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	destHash, err := parseHash16(*destHex)
	if err != nil {
		fmt.Fprintf(stderr, "dest: %v\n", err)
		return 2
	}
	var srcHash [16]byte
	if *srcHex != "" {
		srcHash, err = parseHash16(*srcHex)
		if err != nil {
			fmt.Fprintf(stderr, "source: %v\n", err)
			return 2
		}
	} else {
		srcHash = destHashFromPublicKey(id.PublicKey())
	}

	m := message.Create(destHash, srcHash, []byte(*content), []byte(*title), fields.Fields{}, message.Direct)
	wire, err := m.Pack(id)
	if err != nil {
		fmt.Fprintf(stderr, "pack: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wire: %s\n", hex.EncodeToString(wire))
	hash := m.Hash()
	fmt.Fprintf(stdout, "hash: %s\n", hex.EncodeToString(hash[:]))
	fmt.Fprintf(stdout, "representation: %v\n", m.Representation())
	return 0
}

func cmdStamp(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stamp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	idHex := fs.String("id", "", "32-byte message or transient id, hex")
	cost := fs.Int("cost", 8, "target stamp cost (leading zero bits)")
	workers := fs.Int("workers", 4, "concurrent search workers")
	timeout := fs.Duration("timeout", 30*time.Second, "search deadline")
	propagationNode := fs.Bool("propagation", false, "use propagation-bound workblock rounds (transient_id-keyed)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	raw, err := hex.DecodeString(*idHex)
	if err != nil || len(raw) != 32 {
		fmt.Fprintf(stderr, "id: expected 64 hex chars (32 bytes)\n")
		return 2
	}
	var id [32]byte
	copy(id[:], raw)

	rounds := stamp.WorkblockExpandRounds
	if *propagationNode {
		rounds = stamp.WorkblockExpandRoundsPN
	}
	wb := stamp.Workblock(id, rounds)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	found, ok := stamp.Find(ctx, wb, *cost, *workers)
	if !ok {
		fmt.Fprintln(stderr, "stamp search canceled or timed out")
		return 1
	}
	fmt.Fprintf(stdout, "stamp: %s\n", hex.EncodeToString(found))
	fmt.Fprintf(stdout, "value: %d\n", stamp.Value(wb, found))
	return 0
}

func cmdNode(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: lxmfctl node <add|activate|list> [flags]")
		return 2
	}
	switch args[0] {
	case "add":
		return cmdNodeAdd(args[1:], stdout, stderr)
	case "activate":
		return cmdNodeActivate(args[1:], stdout, stderr)
	case "list":
		return cmdNodeList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown node subcommand %q\n", args[0])
		return 2
	}
}

func cmdNodeAdd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("node add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("datadir", "", "registry data directory")
	destHex := fs.String("dest", "", "node destination hash, hex (16 bytes)")
	name := fs.String("name", "", "display name")
	stampCost := fs.Int("stamp-cost", 0, "required stamp cost")
	flexibility := fs.Int("flexibility", 0, "acceptance-band flexibility")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	destHash, err := parseHash16(*destHex)
	if err != nil {
		fmt.Fprintf(stderr, "dest: %v\n", err)
		return 2
	}
	reg, err := propagation.OpenRegistry(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "open registry: %v\n", err)
		return 1
	}
	defer reg.Close()
	rec := propagation.NodeRecord{DestHash: destHash, DisplayName: *name, StampCost: *stampCost, Flexibility: *flexibility}
	if err := reg.Add(rec); err != nil {
		fmt.Fprintf(stderr, "add node: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "added %s\n", hex.EncodeToString(destHash[:]))
	return 0
}

func cmdNodeActivate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("node activate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("datadir", "", "registry data directory")
	destHex := fs.String("dest", "", "node destination hash, hex (16 bytes)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	destHash, err := parseHash16(*destHex)
	if err != nil {
		fmt.Fprintf(stderr, "dest: %v\n", err)
		return 2
	}
	reg, err := propagation.OpenRegistry(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "open registry: %v\n", err)
		return 1
	}
	defer reg.Close()
	if err := reg.SetActive(transport.DestHash(destHash)); err != nil {
		fmt.Fprintf(stderr, "activate: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "active: %s\n", hex.EncodeToString(destHash[:]))
	return 0
}

func cmdNodeList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("node list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("datadir", "", "registry data directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	reg, err := propagation.OpenRegistry(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "open registry: %v\n", err)
		return 1
	}
	defer reg.Close()
	active, hasActive := reg.Active()
	if !hasActive {
		fmt.Fprintln(stdout, "no active propagation node")
		return 0
	}
	fmt.Fprintf(stdout, "active: %s (%s) stamp_cost=%d flexibility=%d\n",
		hex.EncodeToString(active.DestHash[:]), active.DisplayName, active.StampCost, active.Flexibility)
	return 0
}
