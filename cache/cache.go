package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	bolt "go.etcd.io/bbolt"
)

// Entry records the state of a file the last time it was left in canonical form.
type Entry struct {
	Size     int64
	Modified time.Time
	// Signature identifies the formatter executable and configuration which produced the canonical form.
	Signature []byte
}

// Matches reports whether info and signature describe the same file state as the entry.
func (e *Entry) Matches(info fs.FileInfo, signature []byte) bool {
	// compare at second precision, some formatters touch the mod time at a lower precision than the filesystem
	return e.Size == info.Size() &&
		e.Modified.Unix() == info.ModTime().Unix() &&
		bytes.Equal(e.Signature, signature)
}

// Cache remembers which files were already formatted, so they can be skipped in later runs.
type Cache struct {
	db  *bolt.DB
	log *log.Logger
}

// Path returns a unique local cache file path for the given root string, using its SHA-256 hash.
//
// The database will be located in `XDG_CACHE_HOME/dunefmt/eval-cache/<id>.db`.
func Path(root string) (string, error) {
	digest := sha256.Sum256([]byte(root))

	name := hex.EncodeToString(digest[:])

	path, err := xdg.CacheFile(fmt.Sprintf("dunefmt/eval-cache/%v.db", name))
	if err != nil {
		return "", fmt.Errorf("could not resolve local path for the cache: %w", err)
	}

	return path, nil
}

// Open initialises and opens the cache for the specified root path.
func Open(root string) (*Cache, error) {
	// determine the db location
	path, err := Path(root)
	if err != nil {
		return nil, err
	}

	// open db
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db at %s: %w", path, err)
	}

	// ensure bucket exist
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := BucketPaths(tx)

		return err
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create bucket: %w", err), db.Close())
	}

	l := log.WithPrefix("cache")
	l.Debugf("opened %s", path)

	return &Cache{db: db, log: l}, nil
}

// Fresh reports whether the file at key is known to be in canonical form for signature.
func (c *Cache) Fresh(key string, info fs.FileInfo, signature []byte) (fresh bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		bucket, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		entry, err := bucket.Get(key)
		if errors.Is(err, ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		fresh = entry.Matches(info, signature)

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry for %s: %w", key, err)
	}

	return fresh, nil
}

// Put records info and signature for the file at key.
func (c *Cache) Put(key string, info fs.FileInfo, signature []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		return bucket.Put(key, &Entry{
			Size:      info.Size(),
			Modified:  info.ModTime(),
			Signature: signature,
		})
	})
}

// Delete removes any entry for key.
func (c *Cache) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		return bucket.Delete(key)
	})
}

// Size returns the number of entries in the cache.
func (c *Cache) Size() (size int, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		bucket, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		size = bucket.Size()

		return nil
	})

	return size, err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Remove deletes the cache db for root, if one exists.
func Remove(root string) error {
	// determine the db location
	path, err := Path(root)
	if err != nil {
		return err
	}

	// Remove any db which might already exist.
	// If a dunefmt process is currently running with a db open at the same location, it will continue to function
	// as normal, however, when it exits the disk space its inode was referencing will be reclaimed.
	if err = os.Remove(path); !(err == nil || os.IsNotExist(err)) {
		return fmt.Errorf("failed to remove cache db at %s: %w", path, err)
	}

	return nil
}
