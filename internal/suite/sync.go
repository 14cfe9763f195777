package suite

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-getter"

	"github.com/rurikawa-judge/judger/errors"
	"github.com/rurikawa-judge/judger/internal/coordinator"
	"github.com/rurikawa-judge/judger/internal/model"
	"github.com/rurikawa-judge/judger/logger"
)

// Syncer drives the download/unzip/lockfile-check path of §4.8 for one
// worker. CacheRoot is where suites/<id>/ and suites/<id>.lock live.
type Syncer struct {
	Coordinator *Coordinator
	Client      *coordinator.Client
	CacheRoot   string
}

// lockfile is the JSON descriptor persisted alongside the installed suite.
type lockfile = model.TestSuiteDescriptor

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeTag replaces every character outside [A-Za-z0-9._-] with "__".
// Idempotent on an already-valid tag.
func SanitizeTag(raw string) string {
	return unsafeTagChars.ReplaceAllString(raw, "__")
}

func (s *Syncer) suiteDir(id model.SuiteID) string {
	return filepath.Join(s.CacheRoot, "suites", string(id))
}

// SuiteDir exposes the installed suite's directory for callers (JobPipeline)
// that need to resolve paths relative to it, e.g. mapped_dir.from.
func (s *Syncer) SuiteDir(id model.SuiteID) string {
	return s.suiteDir(id)
}

func (s *Syncer) lockPath(id model.SuiteID) string {
	return filepath.Join(s.CacheRoot, "suites", string(id)+".lock")
}

func readLockfile(path string) (*lockfile, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var lf lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, false
	}
	return &lf, true
}

func writeLockfile(path string, lf lockfile) error {
	data, err := json.Marshal(lf)
	if err != nil {
		return errors.Wrap(err, "failed to encode suite lockfile")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create suites directory")
	}
	return os.WriteFile(path, data, 0644)
}

// SyncResult is everything a JobPipeline needs after a successful sync.
type SyncResult struct {
	Config      model.PublicConfig
	Tag         string // sanitize(packageFileId), used to name the derived user image
	MightModify *MightModifyGuard
}

// CheckDownloadReadSuite implements §4.8. The caller MUST, while still
// holding result.MightModify, acquire Coordinator.OnSuiteRun(id) and only
// then release MightModify — releasing it any earlier lets a writer slip
// in between the read-lock acquisition and the modify-lock release.
func (s *Syncer) CheckDownloadReadSuite(ctx context.Context, id model.SuiteID) (SyncResult, error) {
	guard := s.Coordinator.BeforeSuiteMightModify(id)

	if err := os.MkdirAll(filepath.Join(s.CacheRoot, "suites"), 0755); err != nil {
		guard.Release()
		return SyncResult{}, errors.Wrap(err, "failed to create suites cache directory")
	}

	desc, err := s.Client.SuiteDescriptor(ctx, id)
	if err != nil {
		guard.Release()
		return SyncResult{}, errors.Wrapf(err, "failed to fetch suite descriptor for %s", id)
	}

	dir := s.suiteDir(id)
	prior, hadLock := readLockfile(s.lockPath(id))
	_, dirErr := os.Stat(dir)
	upToDate := hadLock && dirErr == nil && prior.PackageFileID == desc.PackageFileID

	if !upToDate {
		logger.SuiteInfow("suite stale, refreshing", "suite_id", string(id))
		writer := s.Coordinator.BeforeSuiteModify(id)

		if err := refreshSuiteFiles(ctx, s.Client, dir, id, desc.PackageFileID); err != nil {
			writer.Release()
			guard.Release()
			return SyncResult{}, err
		}
		writer.Release()

		// Lockfile is only written after every file is in place, so an
		// interrupted download never gets mistaken for up-to-date.
		if err := writeLockfile(s.lockPath(id), desc); err != nil {
			guard.Release()
			return SyncResult{}, err
		}
	}

	cfg, err := parseTestConf(dir)
	if err != nil {
		guard.Release()
		return SyncResult{}, err
	}

	return SyncResult{
		Config:      cfg,
		Tag:         SanitizeTag(desc.PackageFileID),
		MightModify: guard,
	}, nil
}

// refreshSuiteFiles removes the existing suite folder and re-downloads it
// using go-getter, which handles the temp-file-then-unzip dance and the
// bearer-token header in one call.
func refreshSuiteFiles(ctx context.Context, client *coordinator.Client, dir string, id model.SuiteID, packageFileID string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove stale suite folder %s", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to recreate suite folder %s", dir)
	}

	url := client.DownloadSuiteURL(id) + "?archive=zip"

	httpGetter := &getter.HttpGetter{
		Header: http.Header{"Authorization": []string{client.AccessTokenValue()}},
	}
	getterClient := &getter.Client{
		Ctx:  ctx,
		Src:  url,
		Dst:  dir,
		Mode: getter.ClientModeDir,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
	}

	if err := getterClient.Get(); err != nil {
		return errors.Wrapf(err, "failed to download suite %s", id)
	}

	logger.SuiteInfow("suite refreshed", "suite_id", string(id), "package_file_id", packageFileID)
	return nil
}

func parseTestConf(dir string) (model.PublicConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, "testconf.json"))
	if err != nil {
		return model.PublicConfig{}, errors.Wrapf(err, "failed to read testconf.json in %s", dir)
	}
	var cfg model.PublicConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.PublicConfig{}, errors.Wrap(err, "failed to parse testconf.json")
	}
	return cfg, nil
}
