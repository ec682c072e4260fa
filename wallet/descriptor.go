// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcfed/fedwallet/wallet/txsizes"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrInvalidDescriptor is returned for descriptors that cannot be
	// parsed or are not of a supported form.
	ErrInvalidDescriptor = errors.New("invalid output descriptor")

	// ErrDescriptorChecksum is returned when a descriptor's checksum does
	// not match its body.
	ErrDescriptorChecksum = errors.New("descriptor checksum mismatch")
)

// descriptorKind enumerates the supported descriptor shapes.
type descriptorKind uint8

const (
	descWshMulti descriptorKind = iota
	descWshSortedMulti
	descWpkh
)

// Descriptor is a parsed, non-ranged output descriptor naming the single
// script the federation's funds are held under.  Supported forms are
// wsh(multi(k,KEY,...)), wsh(sortedmulti(k,KEY,...)) and wpkh(KEY), where
// KEY is a hex compressed public key or an xpub with an optional
// non-hardened derivation path.  A trailing #checksum is verified when
// present.
type Descriptor struct {
	str  string
	kind descriptorKind

	threshold int
	keys      []*btcec.PublicKey

	pkScript      []byte
	witnessScript []byte
	address       btcutil.Address
}

// ParseDescriptor parses desc for the given network.
func ParseDescriptor(desc string, params *chaincfg.Params) (*Descriptor, error) {
	desc = strings.TrimSpace(desc)

	body := desc
	if i := strings.IndexByte(desc, '#'); i >= 0 {
		body = desc[:i]
		want, err := descriptorChecksum(body)
		if err != nil {
			return nil, err
		}
		if got := desc[i+1:]; got != want {
			return nil, fmt.Errorf("%w: have %s, want %s",
				ErrDescriptorChecksum, got, want)
		}
	}

	d := &Descriptor{str: body}
	switch {
	case strings.HasPrefix(body, "wsh(") && strings.HasSuffix(body, ")"):
		inner := body[len("wsh(") : len(body)-1]
		switch {
		case strings.HasPrefix(inner, "sortedmulti(") &&
			strings.HasSuffix(inner, ")"):

			d.kind = descWshSortedMulti
			inner = inner[len("sortedmulti(") : len(inner)-1]

		case strings.HasPrefix(inner, "multi(") &&
			strings.HasSuffix(inner, ")"):

			d.kind = descWshMulti
			inner = inner[len("multi(") : len(inner)-1]

		default:
			return nil, fmt.Errorf("%w: unsupported script %q",
				ErrInvalidDescriptor, inner)
		}
		if err := d.parseMulti(inner, params); err != nil {
			return nil, err
		}

	case strings.HasPrefix(body, "wpkh(") && strings.HasSuffix(body, ")"):
		d.kind = descWpkh
		key, err := parseDescriptorKey(body[len("wpkh("):len(body)-1],
			params)
		if err != nil {
			return nil, err
		}
		d.threshold = 1
		d.keys = []*btcec.PublicKey{key}

	default:
		return nil, fmt.Errorf("%w: unsupported top level in %q",
			ErrInvalidDescriptor, body)
	}

	if err := d.buildScripts(params); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Descriptor) parseMulti(args string, params *chaincfg.Params) error {
	parts := strings.Split(args, ",")
	if len(parts) < 2 {
		return fmt.Errorf("%w: multi needs a threshold and keys",
			ErrInvalidDescriptor)
	}

	k, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("%w: bad threshold %q", ErrInvalidDescriptor,
			parts[0])
	}
	n := len(parts) - 1
	if k < 1 || k > n || n > txscript.MaxPubKeysPerMultiSig {
		return fmt.Errorf("%w: threshold %d of %d keys",
			ErrInvalidDescriptor, k, n)
	}

	d.threshold = k
	for _, p := range parts[1:] {
		key, err := parseDescriptorKey(p, params)
		if err != nil {
			return err
		}
		d.keys = append(d.keys, key)
	}

	if d.kind == descWshSortedMulti {
		sort.Slice(d.keys, func(i, j int) bool {
			return bytes.Compare(d.keys[i].SerializeCompressed(),
				d.keys[j].SerializeCompressed()) < 0
		})
	}
	return nil
}

// parseDescriptorKey parses a single KEY expression.  A key origin prefix
// ([fingerprint/path]) is accepted and ignored.
func parseDescriptorKey(s string, params *chaincfg.Params) (*btcec.PublicKey, error) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin",
				ErrInvalidDescriptor)
		}
		s = s[end+1:]
	}

	if len(s) == 2*btcec.PubKeyBytesLenCompressed {
		raw, err := hex.DecodeString(s)
		if err == nil {
			key, err := btcec.ParsePubKey(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v",
					ErrInvalidDescriptor, err)
			}
			return key, nil
		}
	}

	path := strings.Split(s, "/")
	ext, err := hdkeychain.NewKeyFromString(path[0])
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidDescriptor,
			path[0], err)
	}
	if ext.IsPrivate() {
		return nil, fmt.Errorf("%w: private keys are not accepted",
			ErrInvalidDescriptor)
	}
	if !ext.IsForNet(params) {
		return nil, fmt.Errorf("%w: key is for another network",
			ErrInvalidDescriptor)
	}

	for _, step := range path[1:] {
		if step == "*" || strings.HasSuffix(step, "'") ||
			strings.HasSuffix(step, "h") {

			return nil, fmt.Errorf("%w: ranged or hardened step %q",
				ErrInvalidDescriptor, step)
		}
		idx, err := strconv.ParseUint(step, 10, 32)
		if err != nil || idx >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: bad derivation step %q",
				ErrInvalidDescriptor, step)
		}
		ext, err = ext.Derive(uint32(idx))
		if err != nil {
			return nil, err
		}
	}

	return ext.ECPubKey()
}

func (d *Descriptor) buildScripts(params *chaincfg.Params) error {
	var err error
	switch d.kind {
	case descWpkh:
		hash := btcutil.Hash160(d.keys[0].SerializeCompressed())
		d.address, err = btcutil.NewAddressWitnessPubKeyHash(
			hash, params,
		)

	default:
		b := txscript.NewScriptBuilder()
		b.AddInt64(int64(d.threshold))
		for _, key := range d.keys {
			b.AddData(key.SerializeCompressed())
		}
		b.AddInt64(int64(len(d.keys)))
		b.AddOp(txscript.OP_CHECKMULTISIG)
		d.witnessScript, err = b.Script()
		if err != nil {
			return err
		}

		hash := sha256.Sum256(d.witnessScript)
		d.address, err = btcutil.NewAddressWitnessScriptHash(
			hash[:], params,
		)
	}
	if err != nil {
		return err
	}

	d.pkScript, err = txscript.PayToAddrScript(d.address)
	return err
}

// String returns the descriptor with its checksum.
func (d *Descriptor) String() string {
	sum, _ := descriptorChecksum(d.str)
	return d.str + "#" + sum
}

// PkScript is the output script funds are held under.
func (d *Descriptor) PkScript() []byte {
	return d.pkScript
}

// WitnessScript is the script committed to by a wsh descriptor, nil for
// wpkh.
func (d *Descriptor) WitnessScript() []byte {
	return d.witnessScript
}

// Address is the address of PkScript.
func (d *Descriptor) Address() btcutil.Address {
	return d.address
}

// Keys returns the descriptor's keys in script order.
func (d *Descriptor) Keys() []*btcec.PublicKey {
	return d.keys
}

// Threshold is the number of signatures a spend needs.
func (d *Descriptor) Threshold() int {
	return d.threshold
}

// SatisfactionWeight is the worst case witness weight of a spend.
func (d *Descriptor) SatisfactionWeight() int {
	if d.kind == descWpkh {
		return txsizes.RedeemP2WPKHInputWitnessWeight
	}
	return txsizes.RedeemP2WSHMultiSigWitnessWeight(
		d.threshold, len(d.keys),
	)
}

// HasKey reports whether key is one of the descriptor's keys.
func (d *Descriptor) HasKey(key *btcec.PublicKey) bool {
	for _, k := range d.keys {
		if k.IsEqual(key) {
			return true
		}
	}
	return false
}

const (
	descInputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	descChecksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

func descPolymod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// descriptorChecksum computes the eight character checksum of a descriptor
// body.
func descriptorChecksum(body string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range body {
		pos := strings.IndexRune(descInputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: invalid character %q",
				ErrInvalidDescriptor, ch)
		}
		c = descPolymod(c, pos&31)
		cls = cls*3 + (pos >> 5)
		clsCount++
		if clsCount == 3 {
			c = descPolymod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = descPolymod(c, cls)
	}
	for j := 0; j < 8; j++ {
		c = descPolymod(c, 0)
	}
	c ^= 1

	var sum [8]byte
	for j := 0; j < 8; j++ {
		sum[j] = descChecksumCharset[(c>>(5*(7-j)))&31]
	}
	return string(sum[:]), nil
}
