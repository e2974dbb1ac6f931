// Package persistence implements spec.md §4.9's per-project snapshot
// save/restore: a schema-versioned, xxhash-checked binary file sitting
// alongside each project's bbolt database, reconciled against the
// filesystem on restore. Grounded on the teacher's internal/testing/
// binary_snapshot.go (version header, deterministic sorted encoding,
// single trailing checksum), generalized from a test fixture format into
// the daemon's real save/restore path and switched from sha256 to
// `github.com/cespare/xxhash/v2` per the domain-stack table in SPEC_FULL.md.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/project"
)

// SchemaVersion is bumped whenever Snapshot's on-disk encoding changes in a
// way that makes older snapshots unreadable; Restore refuses and rebuilds
// empty on a mismatch (spec.md §4.9, §7).
const SchemaVersion uint32 = 1

// SnapshotFileName is the per-project file persistence writes beside the
// project's bbolt database, per SPEC_FULL.md §6's on-disk layout table.
const SnapshotFileName = "snapshot.bin"

// header is the fixed-size prefix Restore validates strictest-check-first:
// version, then content hash, then declared size, matching spec.md §4.9's
// "validates version then hash then size" ordering.
type header struct {
	Version uint32
	Hash    uint64
	Size    uint64
}

const headerSize = 4 + 8 + 8

// Save serializes proj's Snapshot (gob-encoded for a deterministic,
// self-describing payload) and writes it to dir/snapshot.bin behind a
// version+hash+size header.
func Save(dir string, proj *project.Project) error {
	snap := proj.Export()
	payload, err := encode(snap)
	if err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}

	h := header{
		Version: SchemaVersion,
		Hash:    xxhash.Sum64(payload),
		Size:    uint64(len(payload)),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h.Version); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.Hash); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.Size); err != nil {
		return err
	}
	buf.Write(payload)

	path := filepath.Join(dir, SnapshotFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("persistence: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persistence: finalize snapshot: %w", err)
	}
	logging.Store("saved snapshot for %s (%d bytes)", dir, len(payload))
	return nil
}

// Restore reads dir/snapshot.bin, validates it version-first then
// hash-then-size, and on success imports it into proj. A missing file is
// not an error (fresh project); any validation failure deletes the
// snapshot and leaves proj empty so the project rebuilds from scratch
// (spec.md §4.9: "any failure -> delete snapshot, rebuild empty").
func Restore(dir string, proj *project.Project) (bool, error) {
	path := filepath.Join(dir, SnapshotFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persistence: read snapshot: %w", err)
	}

	if len(data) < headerSize {
		logging.Warnf("STORE", "snapshot %s truncated, discarding", path)
		_ = os.Remove(path)
		return false, nil
	}

	r := bytes.NewReader(data[:headerSize])
	var h header
	_ = binary.Read(r, binary.LittleEndian, &h.Version)
	_ = binary.Read(r, binary.LittleEndian, &h.Hash)
	_ = binary.Read(r, binary.LittleEndian, &h.Size)
	payload := data[headerSize:]

	if h.Version != SchemaVersion {
		logging.Warnf("STORE", "snapshot %s schema version %d != %d, discarding", path, h.Version, SchemaVersion)
		_ = os.Remove(path)
		return false, nil
	}
	if xxhash.Sum64(payload) != h.Hash {
		logging.Warnf("STORE", "snapshot %s failed content hash check, discarding", path)
		_ = os.Remove(path)
		return false, nil
	}
	if uint64(len(payload)) != h.Size {
		logging.Warnf("STORE", "snapshot %s size mismatch, discarding", path)
		_ = os.Remove(path)
		return false, nil
	}

	snap, err := decode(payload)
	if err != nil {
		logging.Warnf("STORE", "snapshot %s failed to decode, discarding: %v", path, err)
		_ = os.Remove(path)
		return false, nil
	}

	proj.Import(snap)
	logging.Store("restored snapshot for %s", dir)
	return true, nil
}

func encode(snap project.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) (project.Snapshot, error) {
	var snap project.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return project.Snapshot{}, err
	}
	return snap, nil
}
