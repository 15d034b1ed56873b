package chat

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"gutorka/internal/filestore"
	"gutorka/internal/models"

	"github.com/google/uuid"
)

// CreateAttachment uploads the file and records it against the chat.
// The upload goes first, a failed upload leaves no record behind.
func (r *Repository) CreateAttachment(chatID, userID string, src io.Reader, fileName string) (models.Attachment, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Attachment{}, err
	}
	if !chat.HasMember(userID) {
		return models.Attachment{}, models.ErrChatNotFound
	}

	handle, size, err := r.files.Save(src, fileName)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%w: %v", models.ErrUploadFailed, err)
	}

	att := models.Attachment{
		ID:          uuid.NewString(),
		StoreHandle: handle,
		FileName:    fileName,
		Size:        size,
		ChatID:      chatID,
		CreatedAt:   r.now().Unix(),
	}
	if err := r.store.UpsertAttachment(att); err != nil {
		if delErr := r.files.Delete(handle); delErr != nil {
			slog.Warn("failed to clean up orphaned file",
				"handle", handle, "error", delErr)
		}
		return models.Attachment{}, fmt.Errorf("failed to save attachment record: %w", err)
	}

	return att, nil
}

// OpenAttachment returns a reader over the stored bytes along with the
// record and the resolved content type. The caller must be a member of
// the owning chat.
func (r *Repository) OpenAttachment(attachmentID, userID string) (io.ReadCloser, models.Attachment, string, error) {
	att, err := r.store.GetAttachment(attachmentID)
	if err != nil {
		return nil, models.Attachment{}, "", err
	}
	if err := r.checkAttachmentAccess(att, userID); err != nil {
		return nil, models.Attachment{}, "", err
	}

	f, err := r.files.Open(att.StoreHandle)
	if err != nil {
		return nil, models.Attachment{}, "", fmt.Errorf("failed to open attachment: %w", err)
	}

	header := make([]byte, filestore.SniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, models.Attachment{}, "", fmt.Errorf("failed to read attachment: %w", err)
	}
	contentType, err := filestore.DetectContentType(header[:n], att.FileName)
	if err != nil {
		f.Close()
		return nil, models.Attachment{}, "", err
	}

	rc := struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(header[:n]), f), f}

	return rc, att, contentType, nil
}

// DeleteAttachment removes the record, unbinds it from its message and
// deletes the stored bytes best effort.
func (r *Repository) DeleteAttachment(attachmentID, userID string) (models.Attachment, error) {
	att, err := r.store.GetAttachment(attachmentID)
	if err != nil {
		return models.Attachment{}, err
	}
	if err := r.checkAttachmentAccess(att, userID); err != nil {
		return models.Attachment{}, err
	}

	if err := r.store.DeleteAttachment(attachmentID); err != nil {
		return models.Attachment{}, err
	}
	if err := r.files.Delete(att.StoreHandle); err != nil {
		slog.Warn("failed to delete attachment file",
			"attachment_id", att.ID, "error", err)
	}

	return att, nil
}

// ListAttachments returns one page of the chat's attachments, newest
// first.
func (r *Repository) ListAttachments(chatID, userID string, pageSize, pageNumber int) ([]models.Attachment, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(userID) {
		return nil, models.ErrChatNotFound
	}

	atts, err := r.store.ListAttachmentsByChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].CreatedAt > atts[j].CreatedAt
	})

	return paginate(atts, pageSize, pageNumber), nil
}

func (r *Repository) checkAttachmentAccess(att models.Attachment, userID string) error {
	chat, err := r.store.GetChat(att.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(userID) {
		return models.ErrAttachmentNotFound
	}
	return nil
}
