// Package state persists the outcome of the last build and serializes
// invocations that share a staging directory.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
)

// DirName is the state directory created next to the staging directory
const DirName = ".dockerstage"

const (
	stateFileName = "state.json"
	lockFileName  = "lock.json"

	heartbeatInterval = 10 * time.Second
	staleAfter        = 30 * time.Second
)

// ErrStagingLocked indicates another live process is using the staging directory
var ErrStagingLocked = errors.New("staging directory is locked by another process")

// BuildState is the persisted record of the most recent build
type BuildState struct {
	ImageName     string            `json:"imageName"`
	BuildID       string            `json:"buildId,omitempty"`
	BuildStatus   types.BuildStatus `json:"buildStatus"`
	ImageID       string            `json:"imageId,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Pushed        bool              `json:"pushed,omitempty"`
	Removed       bool              `json:"removed,omitempty"`
	LastBuildTime time.Time         `json:"lastBuildTime"`
	BuildDuration time.Duration     `json:"buildDuration,omitempty"`
	BuildCount    int               `json:"buildCount"`
	FailureCount  int               `json:"failureCount"`
	LastError     string            `json:"lastError,omitempty"`
	RemovalError  string            `json:"removalError,omitempty"`
}

// LockInfo is the content of the lock file
type LockInfo struct {
	ProcessID int       `json:"processId"`
	BuildID   string    `json:"buildId,omitempty"`
	Heartbeat time.Time `json:"heartbeat"`
}

// Manager owns the state directory of one staging root
type Manager struct {
	stateDir string
	logger   logger.Logger

	mu             sync.Mutex
	held           *LockInfo
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewManager creates a manager for stagingRoot. State lives in a sibling
// directory so it is never sent as build context.
func NewManager(stagingRoot string, log logger.Logger) *Manager {
	return &Manager{
		stateDir: filepath.Join(filepath.Dir(filepath.Clean(stagingRoot)), DirName),
		logger:   log,
	}
}

// Dir returns the state directory
func (sm *Manager) Dir() string {
	return sm.stateDir
}

// AcquireLock takes the staging lock for buildID. A lock left by a dead
// process, or one whose heartbeat is older than 30 seconds, is taken over.
func (sm *Manager) AcquireLock(buildID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.held != nil {
		return fmt.Errorf("%w: already held by this process", ErrStagingLocked)
	}

	if err := os.MkdirAll(sm.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	info := &LockInfo{
		ProcessID: os.Getpid(),
		BuildID:   buildID,
		Heartbeat: time.Now(),
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := sm.createLockFile(info)
		if err == nil {
			sm.held = info
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, readErr := sm.readLockFile()
		if readErr != nil && !os.IsNotExist(readErr) {
			sm.logger.Warn("Replacing unreadable lock file", logger.WithError(readErr))
		} else if readErr == nil && isLive(existing) {
			return fmt.Errorf("%w (pid %d, build %s)", ErrStagingLocked, existing.ProcessID, existing.BuildID)
		} else if readErr == nil {
			sm.logger.Debug("Taking over stale lock",
				logger.WithField("pid", existing.ProcessID),
				logger.WithField("heartbeat", existing.Heartbeat))
		}

		if err := os.Remove(sm.lockPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return ErrStagingLocked
}

// ReleaseLock removes the lock if this manager holds it
func (sm *Manager) ReleaseLock() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.held == nil {
		return nil
	}
	sm.held = nil

	if err := os.Remove(sm.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live process other than this one holds the lock
func (sm *Manager) IsLocked() (bool, *LockInfo, error) {
	info, err := sm.readLockFile()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if info.ProcessID == os.Getpid() {
		return false, info, nil
	}
	return isLive(info), info, nil
}

// StartHeartbeat refreshes the held lock until ctx ends or StopHeartbeat
func (sm *Manager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(heartbeatInterval)
	sm.heartbeatStop = stop
	sm.heartbeatTimer = ticker

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				sm.updateHeartbeat()
			}
		}
	}()
}

// Heartbeating reports whether the heartbeat goroutine is running
func (sm *Manager) Heartbeating() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.heartbeatTimer != nil
}

// StopHeartbeat stops the heartbeat updater
func (sm *Manager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}

	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// ReadState loads the last recorded build. A missing file yields an idle state.
func (sm *Manager) ReadState() (*BuildState, error) {
	data, err := os.ReadFile(sm.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &BuildState{BuildStatus: types.BuildStatusIdle}, nil
		}
		return nil, err
	}

	var state BuildState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

// RecordStart marks a build as in progress
func (sm *Manager) RecordStart(buildID, imageName string, status types.BuildStatus) error {
	return sm.update(func(s *BuildState) {
		s.ImageName = imageName
		s.BuildID = buildID
		s.BuildStatus = status
	})
}

// RecordSuccess stores a completed build
func (sm *Manager) RecordSuccess(identity types.ImageIdentity, pushed, removed bool, duration time.Duration, removalErr error) error {
	return sm.update(func(s *BuildState) {
		s.BuildStatus = types.BuildStatusSucceeded
		s.ImageName = identity.Name
		s.ImageID = identity.ID
		s.Tags = identity.Tags
		s.Pushed = pushed
		s.Removed = removed
		s.LastBuildTime = time.Now()
		s.BuildDuration = duration
		s.BuildCount++
		s.LastError = ""
		s.RemovalError = ""
		if removalErr != nil {
			s.RemovalError = removalErr.Error()
		}
	})
}

// RecordFailure stores a failed build
func (sm *Manager) RecordFailure(cause error, duration time.Duration) error {
	return sm.update(func(s *BuildState) {
		s.BuildStatus = types.BuildStatusFailed
		s.ImageID = ""
		s.Tags = nil
		s.Pushed = false
		s.Removed = false
		s.LastBuildTime = time.Now()
		s.BuildDuration = duration
		s.BuildCount++
		s.FailureCount++
		s.LastError = cause.Error()
		s.RemovalError = ""
	})
}

// Clean removes the state directory. It refuses while another process holds
// the lock.
func (sm *Manager) Clean() error {
	locked, info, err := sm.IsLocked()
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w (pid %d)", ErrStagingLocked, info.ProcessID)
	}
	return os.RemoveAll(sm.stateDir)
}

// Private methods

func (sm *Manager) lockPath() string {
	return filepath.Join(sm.stateDir, lockFileName)
}

func (sm *Manager) statePath() string {
	return filepath.Join(sm.stateDir, stateFileName)
}

func (sm *Manager) createLockFile(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(sm.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(sm.lockPath())
		return err
	}
	return f.Close()
}

func (sm *Manager) readLockFile() (*LockInfo, error) {
	data, err := os.ReadFile(sm.lockPath())
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

func (sm *Manager) update(mutate func(*BuildState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := os.MkdirAll(sm.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	state, err := sm.ReadState()
	if err != nil {
		sm.logger.Warn("Discarding unreadable state file", logger.WithError(err))
		state = &BuildState{}
	}
	mutate(state)

	return writeAtomic(sm.statePath(), state)
}

func (sm *Manager) updateHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.held == nil {
		return
	}
	sm.held.Heartbeat = time.Now()
	if err := writeAtomic(sm.lockPath(), sm.held); err != nil {
		sm.logger.Debug("Failed to update heartbeat", logger.WithError(err))
	}
}

func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	return nil
}

// isLive reports whether the lock owner still appears to be running
func isLive(info *LockInfo) bool {
	if time.Since(info.Heartbeat) > staleAfter {
		return false
	}
	if info.ProcessID == os.Getpid() {
		return true
	}

	process, err := os.FindProcess(info.ProcessID)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}
