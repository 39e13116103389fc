package rooms

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/telemetry"
)

// Upload stores a file against the room's bounded capacity. Files above
// the per-file cap are rejected outright. When the room total would
// exceed capacity, the oldest uploads are evicted first until the new
// file fits; if evicting everything still would not free enough space the
// upload is rejected and the total is unchanged. The file id is a
// content-hash prefix, so identical bytes share an id (storage and
// history are still charged per upload).
func (r *Room) Upload(from, name string, data []byte, contentType, channel string) (models.SharedFile, error) {
	if channel == "" {
		channel = MainChannel
	}
	size := int64(len(data))
	if size == 0 {
		return models.SharedFile{}, fmt.Errorf("%w: empty file", models.ErrValidation)
	}
	if size > r.limits.MaxFileSize {
		return models.SharedFile{}, fmt.Errorf("%w: file %s is %d bytes, per-file limit is %d",
			models.ErrCapacity, name, size, r.limits.MaxFileSize)
	}

	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.SharedFile{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	if _, ok := r.channels[channel]; !ok {
		r.mu.Unlock()
		return models.SharedFile{}, errUnknownChannel(channel)
	}
	if size > r.limits.FileCapacity {
		r.mu.Unlock()
		return models.SharedFile{}, fmt.Errorf("%w: file %s cannot fit room capacity %d",
			models.ErrCapacity, name, r.limits.FileCapacity)
	}

	// evict oldest-upload-first until the new file fits
	var evicted []models.SharedFile
	for r.totalSize+size > r.limits.FileCapacity && len(r.files) > 0 {
		victim := r.files[0]
		r.files = r.files[1:]
		r.totalSize -= victim.Size
		evicted = append(evicted, victim)
	}

	sum := sha256.Sum256(data)
	f := models.SharedFile{
		ID:          hex.EncodeToString(sum[:])[:16],
		Name:        name,
		UploadedBy:  from,
		UploadedAt:  now(),
		Size:        size,
		ContentType: contentType,
		Channel:     channel,
		Data:        append([]byte(nil), data...),
	}
	r.files = append(r.files, f)
	r.totalSize += size
	r.mu.Unlock()

	for _, v := range evicted {
		telemetry.FilesEvicted.Inc()
		r.appendSystemMessage(fmt.Sprintf("evicted file %s (%d bytes) to free space", v.Name, v.Size))
		if r.persist != nil {
			if err := r.persist.DeleteFile(r.meta.ID, v.ID); err != nil {
				logger.Warn("file_delete_persist_failed", "room", r.meta.ID, "file", v.ID, "error", err)
			}
		}
	}
	if r.persist != nil {
		if err := r.persist.SaveFile(r.meta.ID, f); err != nil {
			logger.Warn("file_persist_failed", "room", r.meta.ID, "file", f.ID, "error", err)
		}
	}
	r.appendSystemMessage(fmt.Sprintf("%s shared file %s (%d bytes) in #%s", from, name, size, channel))
	return f, nil
}

// Files snapshots the room's shared files in upload order.
func (r *Room) Files() []models.SharedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SharedFile(nil), r.files...)
}

// FileContent returns an upload including its stored bytes. Evicted
// files are gone: their content is not retained anywhere in the room.
func (r *Room) FileContent(fileID string) (models.SharedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == fileID {
			return f, nil
		}
	}
	return models.SharedFile{}, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
}

// FileBytes returns the room's current total stored size.
func (r *Room) FileBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSize
}
