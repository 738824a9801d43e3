package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"missionlog/pkg/logger"
)

// fileLease is a single-holder lock backed by a lock file. Acquire uses
// link(2) for atomic create; a stale file is replaced once its TTL
// expires, so a crashed holder cannot wedge the scheduler.
type fileLease struct {
	path string
}

type leaseFile struct {
	Owner   string `json:"owner"`
	Expires string `json:"expires"`
}

func newFileLease(dir string) *fileLease {
	return &fileLease{path: filepath.Join(dir, "reconcile.lock")}
}

func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	lf := leaseFile{Owner: owner, Expires: now.Add(ttl).Format(time.RFC3339)}
	b, _ := json.Marshal(lf)
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return false, err
	}
	if err := os.Link(tmp, l.path); err == nil {
		os.Remove(tmp)
		return true, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		os.Remove(tmp)
		return false, err
	}
	var existing leaseFile
	if err := json.Unmarshal(data, &existing); err != nil {
		os.Remove(tmp)
		return false, err
	}
	expT, _ := time.Parse(time.RFC3339, existing.Expires)
	if expT.Before(now) {
		if err := os.Rename(tmp, l.path); err != nil {
			return false, err
		}
		logger.Info("reconcile_lease_replaced_stale", "previous_owner", existing.Owner)
		return true, nil
	}
	os.Remove(tmp)
	logger.Info("reconcile_lease_held", "owner", existing.Owner)
	return false, nil
}

func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var existing leaseFile
	if err := json.Unmarshal(data, &existing); err != nil {
		return err
	}
	if existing.Owner != owner {
		return fmt.Errorf("not owner")
	}
	existing.Expires = time.Now().UTC().Add(ttl).Format(time.RFC3339)
	b, _ := json.Marshal(existing)
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *fileLease) Release(owner string) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var existing leaseFile
	if err := json.Unmarshal(data, &existing); err != nil {
		return err
	}
	if existing.Owner != owner {
		return fmt.Errorf("not owner")
	}
	return os.Remove(l.path)
}
