package server

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/log"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

// maxMetadataSize bounds the JSON metadata frame. Real manifests are a
// few KiB; anything near this limit is hostile.
const maxMetadataSize = 1 << 20

// parsePublishBody decodes cargo's length-prefixed publish framing:
// 4 LE bytes of JSON length, the JSON metadata, 4 LE bytes of tarball
// length, the tarball.
func parsePublishBody(body io.Reader, maxCrateSize int64) (*api.PublishRequest, []byte, error) {
	var metaLen uint32
	if err := binary.Read(body, binary.LittleEndian, &metaLen); err != nil {
		return nil, nil, api.ErrBadRequest("malformed publish body: missing metadata length")
	}
	if metaLen == 0 || metaLen > maxMetadataSize {
		return nil, nil, api.ErrBadRequest("malformed publish body: unreasonable metadata length")
	}

	metaBuf := make([]byte, metaLen)
	if _, err := io.ReadFull(body, metaBuf); err != nil {
		return nil, nil, api.ErrBadRequest("malformed publish body: truncated metadata")
	}
	req := &api.PublishRequest{}
	if err := json.Unmarshal(metaBuf, req); err != nil {
		return nil, nil, api.ErrBadRequest(fmt.Sprintf("malformed publish metadata: %v", err))
	}

	var tarballLen uint32
	if err := binary.Read(body, binary.LittleEndian, &tarballLen); err != nil {
		return nil, nil, api.ErrBadRequest("malformed publish body: missing tarball length")
	}
	if int64(tarballLen) > maxCrateSize {
		return nil, nil, api.NewError(api.KindPayloadTooLarge,
			fmt.Sprintf("tarball of %d bytes exceeds the %d byte limit", tarballLen, maxCrateSize))
	}

	tarball := make([]byte, tarballLen)
	if _, err := io.ReadFull(body, tarball); err != nil {
		return nil, nil, api.ErrBadRequest("malformed publish body: truncated tarball")
	}
	return req, tarball, nil
}

// handlePublish runs the publish pipeline: parse, validate, authorize,
// checksum, then the index transaction with the storage put as its end
// step. Failure after the tarball landed triggers a compensating delete.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	completion, err := s.publish(r)
	if err != nil {
		metrics.PublishesTotal.WithLabelValues(api.KindOf(err).String()).Inc()
		writeError(w, err)
		return
	}
	metrics.PublishesTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, completion)
}

func (s *Server) publish(r *http.Request) (*api.CompletedPublication, error) {
	ctx := r.Context()
	who := identityFrom(ctx)

	// The frame length field caps the tarball, and the reader caps the
	// whole body in case the length field lies.
	body := io.LimitReader(r.Body, s.cfg.Service.MaxCrateSize+maxMetadataSize+64)
	req, tarball, err := parsePublishBody(body, s.cfg.Service.MaxCrateSize)
	if err != nil {
		return nil, err
	}

	warnings, err := api.ValidatePublish(req)
	if err != nil {
		return nil, err
	}

	if err := s.auth.AuthPublish(ctx, who, req.Name); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(tarball)
	checksum := hex.EncodeToString(sum[:])
	logger := log.WithCrate(req.Name).With().
		Str("version", req.Vers).
		Str("user", who.Login).
		Logger()

	// The storage put runs inside the index transaction via endStep: if
	// the put fails the index rolls back, and if the commit fails after
	// the put we compensate below.
	putDone := false
	completion, err := s.index.Publish(ctx, req, checksum, func(stepCtx context.Context) error {
		if err := s.storage.PutCrate(stepCtx, req.Name, req.Vers, tarball); err != nil {
			return err
		}
		putDone = true
		return nil
	})
	if err != nil {
		if putDone {
			logger.Warn().Err(err).Msg("Publish failed after storage put, removing tarball")
			s.compensate(req.Name, req.Vers)
		}
		return nil, err
	}

	if completion.FirstPublish {
		if err := s.auth.RegisterOwner(ctx, who, req.Name); err != nil {
			// The index row is already committed. Best effort: yank the
			// version and remove the tarball, then surface the failure.
			logger.Error().Err(err).Msg("First-publish ownership grant failed, rolling back")
			if _, yankErr := s.index.SetYanked(ctx, req.Name, req.Vers, true); yankErr != nil {
				logger.Warn().Err(yankErr).Msg("Rollback yank failed")
			}
			s.compensate(req.Name, req.Vers)
			return nil, api.WrapError(api.KindAuthIO, "failed to record package ownership", err)
		}
	}

	if req.Readme != nil && *req.Readme != "" {
		// Readme storage is best effort; the publish already committed.
		if err := s.storage.PutReadme(ctx, req.Name, req.Vers, []byte(*req.Readme)); err != nil {
			logger.Warn().Err(err).Msg("Readme store failed")
		}
	}

	if warnings == nil {
		warnings = &api.PublishWarnings{}
	}
	normalizeWarnings(warnings)
	completion.Warnings = warnings
	logger.Info().Bool("first_publish", completion.FirstPublish).Msg("Published")
	return completion, nil
}

// compensate removes a tarball whose surrounding publish failed. Delete
// failures are logged, never surfaced: the publish error already stands.
// Runs on a fresh context so a cancelled request cannot strand the
// object.
func (s *Server) compensate(name, version string) {
	metrics.CompensatingDeletesTotal.Inc()
	dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.storage.DeleteCrate(dctx, name, version); err != nil {
		logger := log.WithCrate(name)
		logger.Warn().Err(err).Str("version", version).
			Msg("Compensating delete failed, object may be orphaned")
	}
}

// normalizeWarnings makes every warning list serialize as a JSON array.
func normalizeWarnings(w *api.PublishWarnings) {
	if w.InvalidCategories == nil {
		w.InvalidCategories = []string{}
	}
	if w.InvalidBadges == nil {
		w.InvalidBadges = []string{}
	}
	if w.Other == nil {
		w.Other = []string{}
	}
}
