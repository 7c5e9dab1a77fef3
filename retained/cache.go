package retained

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/ivanyu/pyheap/heap"
	"github.com/ivanyu/pyheap/heapfile"
)

// cacheMagic opens every cache file: "PYHEAPC1" as an 8-byte big-endian
// value.
const cacheMagic uint64 = 0x5059484541504331

// cacheVersion tags the cache layout; bump when the layout or the retained
// algorithm changes.
const cacheVersion = 1

// CacheDirEnv, when set, overrides the directory cache files are written
// to. By default they sit next to the snapshot.
const CacheDirEnv = "PYHEAP_CACHE_DIR"

// Fingerprint returns the hex-encoded SHA-1 of the snapshot file's bytes.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CachePath returns the cache file path for a snapshot with the given
// fingerprint.
func CachePath(snapshotPath, fingerprint string) string {
	name := fmt.Sprintf("%s.%s.retained_heap", filepath.Base(snapshotPath), fingerprint)
	if dir := os.Getenv(CacheDirEnv); dir != "" {
		return filepath.Join(dir, name)
	}
	return filepath.Join(filepath.Dir(snapshotPath), name)
}

// Provide returns the retained heap for the snapshot at snapshotPath,
// adopting a cache file with a matching fingerprint when one decodes
// successfully and computing (and persisting) the result otherwise. Cache
// read and write failures are logged and swallowed; they never fail the
// analysis.
func Provide(ctx context.Context, snapshotPath string, snap *heap.Snapshot, opts Options) (*RetainedHeap, error) {
	logger := opts.logger()

	fingerprint, err := Fingerprint(snapshotPath)
	if err != nil {
		return nil, err
	}
	cachePath := CachePath(snapshotPath, fingerprint)

	rh, err := loadCache(cachePath, fingerprint)
	if err == nil {
		level.Info(logger).Log("msg", "adopted retained heap cache", "path", cachePath)
		return rh, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		level.Warn(logger).Log("msg", "discarding retained heap cache", "path", cachePath, "err", err)
	}

	rh, err = Compute(ctx, snap, opts)
	if err != nil {
		return nil, err
	}
	if err := storeCache(cachePath, fingerprint, rh); err != nil {
		level.Warn(logger).Log("msg", "failed to write retained heap cache", "path", cachePath, "err", err)
	} else {
		level.Info(logger).Log("msg", "saved retained heap cache", "path", cachePath)
	}
	return rh, nil
}

// loadCache decodes a cache file, validating magic, version, and
// fingerprint. Any failure discards the cache.
func loadCache(path, fingerprint string) (*RetainedHeap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := heapfile.NewDecoder(f)
	magic, err := d.ReadRawUint64()
	if err != nil {
		return nil, err
	}
	if magic != cacheMagic {
		return nil, errors.Errorf("cache magic 0x%016x", magic)
	}
	version, err := d.ReadUint()
	if err != nil {
		return nil, err
	}
	if version != cacheVersion {
		return nil, errors.Errorf("cache version %d, want %d", version, cacheVersion)
	}
	storedFingerprint, err := d.ReadShortString()
	if err != nil {
		return nil, err
	}
	if storedFingerprint != fingerprint {
		return nil, errors.Errorf("cache fingerprint %s does not match snapshot %s", storedFingerprint, fingerprint)
	}

	objectCount, err := d.ReadUint()
	if err != nil {
		return nil, err
	}
	objects := make([]ObjectEntry, 0, objectCount)
	for i := uint64(0); i < objectCount; i++ {
		addr, err := d.ReadAddress()
		if err != nil {
			return nil, err
		}
		retained, err := d.ReadUint()
		if err != nil {
			return nil, err
		}
		objects = append(objects, ObjectEntry{Address: addr, Retained: retained})
	}

	threadCount, err := d.ReadUint()
	if err != nil {
		return nil, err
	}
	threads := make([]ThreadEntry, 0, threadCount)
	for i := uint64(0); i < threadCount; i++ {
		name, err := d.ReadShortString()
		if err != nil {
			return nil, err
		}
		retained, err := d.ReadUint()
		if err != nil {
			return nil, err
		}
		threads = append(threads, ThreadEntry{Name: name, Retained: retained})
	}
	if err := d.ExpectEOF(); err != nil {
		return nil, err
	}
	return New(objects, threads), nil
}

// storeCache writes the cache to a temporary file and renames it into
// place, so readers never observe a torn file and the last concurrent
// writer wins.
func storeCache(path, fingerprint string, rh *RetainedHeap) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	err = encodeCache(f, fingerprint, rh)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func encodeCache(w io.Writer, fingerprint string, rh *RetainedHeap) error {
	e := heapfile.NewEncoder(w)
	if err := e.WriteRawUint64(cacheMagic); err != nil {
		return err
	}
	if err := e.WriteUint(cacheVersion); err != nil {
		return err
	}
	if err := e.WriteShortString(fingerprint); err != nil {
		return err
	}

	objects := rh.ObjectEntries()
	if err := e.WriteUint(uint64(len(objects))); err != nil {
		return err
	}
	for _, entry := range objects {
		if err := e.WriteAddress(entry.Address); err != nil {
			return err
		}
		if err := e.WriteUint(entry.Retained); err != nil {
			return err
		}
	}

	threads := rh.ThreadEntries()
	if err := e.WriteUint(uint64(len(threads))); err != nil {
		return err
	}
	for _, entry := range threads {
		if err := e.WriteShortString(entry.Name); err != nil {
			return err
		}
		if err := e.WriteUint(entry.Retained); err != nil {
			return err
		}
	}
	return e.Flush()
}
