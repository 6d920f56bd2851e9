package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/fingerprint"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/retry"
)

// TreeSyncer is the part of Store the sync loop needs.
type TreeSyncer interface {
	SyncTree(ctx context.Context, projectID string, nodes []*models.FileNode) error
}

// Syncer mirrors the workspace tree into a project on an interval. Trees
// that did not change since the last successful sync are skipped.
type Syncer struct {
	target    TreeSyncer
	projectID string
	source    func() []*models.FileNode
	interval  time.Duration
	retry     retry.Config
	log       *zap.Logger

	last fingerprint.Sum
}

// NewSyncer creates a syncer reading the tree from source.
func NewSyncer(target TreeSyncer, projectID string, source func() []*models.FileNode, interval time.Duration) *Syncer {
	return &Syncer{
		target:    target,
		projectID: projectID,
		source:    source,
		interval:  interval,
		retry:     retry.SyncConfig(),
		log:       logging.Named("sync"),
	}
}

// SyncOnce pushes the current tree if it changed. It reports whether a
// write happened.
func (s *Syncer) SyncOnce(ctx context.Context) (bool, error) {
	nodes := s.source()
	data, err := json.Marshal(nodes)
	if err != nil {
		return false, err
	}
	fp := fingerprint.Bytes(data)
	if fp == s.last {
		return false, nil
	}

	err = retry.Do(ctx, s.retry, func() error {
		err := s.target.SyncTree(ctx, s.projectID, nodes)
		if transient(err) {
			return retry.Retryable(err)
		}
		return err
	})
	metrics.RecordSync(err == nil)
	if err != nil {
		return false, err
	}
	s.last = fp
	return true, nil
}

// transient reports whether a sync failure may go away on its own: lost
// connections, serialization conflicts and a server that is shutting down
// or out of resources. Missing projects and constraint violations are not.
func transient(err error) bool {
	if err == nil || errors.Is(err, ErrProjectNotFound) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Run syncs immediately and then every interval until ctx ends.
func (s *Syncer) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Syncer) tick(ctx context.Context) {
	wrote, err := s.SyncOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("workspace sync failed", zap.String("project", s.projectID), zap.Error(err))
		}
		return
	}
	if wrote {
		s.log.Debug("workspace synced", zap.String("project", s.projectID))
	}
}
