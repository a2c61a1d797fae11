// Package deploy sequences backup, deploy and rollback operations against a
// remote target.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"sftp-deploy/internal/backup"
	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/logging"
	"sftp-deploy/internal/progress"
	"sftp-deploy/internal/remote"
	"sftp-deploy/internal/transfer"
)

// VersionMarker is uploaded ahead of the snapshot during rollback
const VersionMarker = "version.json"

// Operation names an orchestrated unit of work
type Operation string

const (
	OperationDeploy   Operation = "deploy"
	OperationRollback Operation = "rollback"
	OperationBackup   Operation = "backup"
)

// Project identifies what is being deployed and where its snapshot lives
type Project struct {
	Name        string
	Environment string
	LocalPath   string
}

// Session is an open remote filesystem that must be closed after use
type Session interface {
	transfer.RemoteFS
	Close() error
}

// Connector opens sessions to a target
type Connector interface {
	Connect(ctx context.Context, target remote.Target) (Session, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, target remote.Target) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, target remote.Target) (Session, error) {
	return f(ctx, target)
}

// NewSSHConnector opens sessions through a remote.ConnectionManager
func NewSSHConnector(cm *remote.ConnectionManager) Connector {
	return ConnectorFunc(func(ctx context.Context, target remote.Target) (Session, error) {
		client, err := cm.Connect(ctx, target)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}

// Result summarises a finished operation
type Result struct {
	Operation      Operation      `json:"operation" yaml:"operation"`
	OperationID    string         `json:"operation_id" yaml:"operation_id"`
	Project        string         `json:"project" yaml:"project"`
	Environment    string         `json:"environment" yaml:"environment"`
	Target         string         `json:"target" yaml:"target"`
	BackupPath     string         `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	BackupCaptured bool           `json:"backup_captured" yaml:"backup_captured"`
	Backup         transfer.Stats `json:"backup" yaml:"backup"`
	Uploaded       transfer.Stats `json:"uploaded" yaml:"uploaded"`
	MarkerUploaded bool           `json:"marker_uploaded,omitempty" yaml:"marker_uploaded,omitempty"`
	Duration       time.Duration  `json:"duration" yaml:"duration"`
}

// Summary renders a one-line human description of the result
func (r *Result) Summary() string {
	switch r.Operation {
	case OperationBackup:
		if !r.BackupCaptured {
			return fmt.Sprintf("Nothing to back up at %s", r.Target)
		}
		return fmt.Sprintf("Backed up %d files (%s) to %s in %s",
			r.Backup.Files, humanize.Bytes(uint64(r.Backup.Bytes)), r.BackupPath, r.Duration.Round(time.Millisecond))
	case OperationRollback:
		return fmt.Sprintf("Rolled back %s/%s: restored %d files (%s) in %s",
			r.Project, r.Environment, r.Uploaded.Files, humanize.Bytes(uint64(r.Uploaded.Bytes)), r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("Deployed %s/%s: uploaded %d files (%s) in %s",
		r.Project, r.Environment, r.Uploaded.Files, humanize.Bytes(uint64(r.Uploaded.Bytes)), r.Duration.Round(time.Millisecond))
}

// Options configures an Orchestrator
type Options struct {
	Connector Connector
	Store     *backup.Store
	Logger    *logging.Logger
	Observer  progress.Observer
}

// Orchestrator runs deploy, rollback and backup operations. Each call holds
// one session for its whole duration and works strictly sequentially.
type Orchestrator struct {
	connector Connector
	store     *backup.Store
	logger    *logging.Logger
	observer  progress.Observer
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Connector == nil {
		return nil, apperrors.NewConfigError("a connector is required", nil)
	}
	if opts.Store == nil {
		return nil, apperrors.NewConfigError("a backup store is required", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	return &Orchestrator{
		connector: opts.Connector,
		store:     opts.Store,
		logger:    opts.Logger,
		observer:  opts.Observer,
	}, nil
}

// Deploy snapshots the remote tree and then uploads the local tree over it.
// The local tree is checked before any network I/O. A failed upload leaves
// the snapshot in place as the rollback source.
func (o *Orchestrator) Deploy(ctx context.Context, target remote.Target, project Project) (*Result, error) {
	return o.run(ctx, OperationDeploy, target, project, o.deploy)
}

// Rollback uploads the version marker and then the snapshot over the remote tree
func (o *Orchestrator) Rollback(ctx context.Context, target remote.Target, project Project) (*Result, error) {
	return o.run(ctx, OperationRollback, target, project, o.rollback)
}

// Backup captures the remote tree into the snapshot without deploying
func (o *Orchestrator) Backup(ctx context.Context, target remote.Target, project Project) (*Result, error) {
	return o.run(ctx, OperationBackup, target, project, o.backup)
}

// BackupDir returns the snapshot directory, creating it when absent
func (o *Orchestrator) BackupDir(project, environment string) (string, error) {
	return o.store.LocationFor(project, environment)
}

type operationFunc func(ctx context.Context, target remote.Target, project Project, result *Result) error

func (o *Orchestrator) run(ctx context.Context, op Operation, target remote.Target, project Project, fn operationFunc) (*Result, error) {
	if logging.OperationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithOperationID(ctx, "")
	}

	result := &Result{
		Operation:   op,
		OperationID: logging.OperationIDFromContext(ctx),
		Project:     project.Name,
		Environment: project.Environment,
		Target:      target.String(),
	}

	done := o.logger.LogOperationStart(ctx, string(op), map[string]interface{}{
		"project":     project.Name,
		"environment": project.Environment,
		"target":      target.String(),
	})

	start := time.Now()
	err := fn(ctx, target, project, result)
	result.Duration = time.Since(start)
	done(err)

	return result, err
}

func (o *Orchestrator) deploy(ctx context.Context, target remote.Target, project Project, result *Result) error {
	if _, err := o.store.Path(project.Name, project.Environment); err != nil {
		return err
	}
	total, err := countLocalTree(project.LocalPath)
	if err != nil {
		return err
	}

	session, err := o.connector.Connect(ctx, target)
	if err != nil {
		return err
	}
	defer o.closeSession(ctx, session)

	engine := transfer.NewEngine(session)
	if err := o.captureBackup(ctx, engine, target, project, result); err != nil {
		return err
	}

	stats, err := o.upload(ctx, engine, project.LocalPath, target.RemotePath, total)
	result.Uploaded = stats
	return err
}

func (o *Orchestrator) rollback(ctx context.Context, target remote.Target, project Project, result *Result) error {
	if _, err := o.store.Path(project.Name, project.Environment); err != nil {
		return err
	}
	marker := filepath.Join(project.LocalPath, VersionMarker)
	if info, err := os.Stat(marker); err != nil || !info.Mode().IsRegular() {
		return apperrors.NewPathError(fmt.Sprintf("version marker %s not found", marker), err)
	}

	session, err := o.connector.Connect(ctx, target)
	if err != nil {
		return err
	}
	defer o.closeSession(ctx, session)

	if !o.store.Exists(project.Name, project.Environment) {
		return apperrors.NewBackupMissingError(project.Name, project.Environment)
	}
	snapshot, err := o.store.LocationFor(project.Name, project.Environment)
	if err != nil {
		return err
	}
	result.BackupPath = snapshot

	// the remote is untouched until the snapshot is known to hold files
	total, err := transfer.CountFiles(snapshot)
	if err != nil {
		return err
	}
	if total == 0 {
		return apperrors.NewPathError(fmt.Sprintf("backup for project %q environment %q is empty", project.Name, project.Environment), nil)
	}

	engine := transfer.NewEngine(session)
	if err := engine.EnsureDir(target.RemotePath); err != nil {
		return err
	}
	remoteMarker := path.Join(target.RemotePath, VersionMarker)
	if _, err := engine.UploadFile(marker, remoteMarker); err != nil {
		return err
	}
	result.MarkerUploaded = true
	o.logger.WithContext(ctx).WithField("destination", remoteMarker).Info("Version marker uploaded")

	stats, err := o.upload(ctx, engine, snapshot, target.RemotePath, total)
	result.Uploaded = stats
	return err
}

func (o *Orchestrator) backup(ctx context.Context, target remote.Target, project Project, result *Result) error {
	if _, err := o.store.Path(project.Name, project.Environment); err != nil {
		return err
	}

	session, err := o.connector.Connect(ctx, target)
	if err != nil {
		return err
	}
	defer o.closeSession(ctx, session)

	return o.captureBackup(ctx, transfer.NewEngine(session), target, project, result)
}

// captureBackup mirrors the remote tree into the snapshot. An absent remote
// tree keeps whatever snapshot already exists.
func (o *Orchestrator) captureBackup(ctx context.Context, engine *transfer.Engine, target remote.Target, project Project, result *Result) error {
	start := time.Now()
	var stats transfer.Stats

	dir, replaced, err := o.store.Replace(project.Name, project.Environment, func(staging string) (bool, error) {
		s, found, err := engine.DownloadTree(target.RemotePath, staging)
		stats = s
		return found, err
	})
	o.logger.LogTransfer(ctx, "download", target.RemotePath, dir, stats.Files, stats.Bytes, time.Since(start), err)
	if err != nil {
		return err
	}

	result.BackupPath = dir
	result.BackupCaptured = replaced
	result.Backup = stats
	if !replaced {
		o.logger.WithContext(ctx).WithField("remote_path", target.RemotePath).
			Debug("Remote tree not found, nothing to back up")
	}
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, engine *transfer.Engine, localRoot, remoteRoot string, total int) (transfer.Stats, error) {
	start := time.Now()
	tracker := progress.NewTracker(progress.NewReporter(o.observer), total)

	stats, err := engine.UploadTree(localRoot, remoteRoot, tracker)
	o.logger.LogTransfer(ctx, "upload", localRoot, remoteRoot, stats.Files, stats.Bytes, time.Since(start), err)
	return stats, err
}

func (o *Orchestrator) closeSession(ctx context.Context, session Session) {
	if err := session.Close(); err != nil {
		o.logger.WithContext(ctx).WithField("error", err.Error()).Debug("Failed to close session")
	}
}

// countLocalTree verifies the source directory and counts its files. An
// empty tree is rejected.
func countLocalTree(localPath string) (int, error) {
	if localPath == "" {
		return 0, apperrors.NewPathError("local path is required", nil)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, apperrors.NewPathError(fmt.Sprintf("local path %s does not exist", localPath), err)
	}
	if !info.IsDir() {
		return 0, apperrors.NewPathError(fmt.Sprintf("local path %s is not a directory", localPath), nil)
	}

	total, err := transfer.CountFiles(localPath)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, apperrors.NewPathError(fmt.Sprintf("no files found in %s", localPath), nil)
	}
	return total, nil
}
