package mtproto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

const historyBatchSize = 100

// Source pulls channel history over MTProto via gotd.
type Source struct {
	client    *telegram.Client
	imagesDir string
	log       zerolog.Logger
}

// NewSource creates an MTProto message source. The session file must
// already hold an authorized user session; interactive auth flows are
// not part of the pipeline.
func NewSource(apiID int, apiHash, sessionFile, imagesDir string, log zerolog.Logger) *Source {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
	})
	return &Source{client: client, imagesDir: imagesDir, log: log}
}

var _ domain.MessageSource = (*Source)(nil)

// FetchChannel downloads the channel history newest-first, saving photo
// media under <imagesDir>/<channel>/<messageID>.jpg. FLOOD_WAIT maps to
// *domain.RateLimitError, a private or missing channel maps to
// domain.ErrChannelUnavailable.
func (s *Source) FetchChannel(ctx context.Context, channel string, limit int) ([]domain.RawMessage, error) {
	name := NormalizeChannelName(channel)
	var messages []domain.RawMessage
	err := s.client.Run(ctx, func(ctx context.Context) error {
		status, err := s.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("telegram session is not authorized")
		}
		api := s.client.API()
		ch, err := s.resolveChannel(ctx, api, name)
		if err != nil {
			return err
		}
		messages, err = s.fetchHistory(ctx, api, ch, name, limit)
		return err
	})
	if err != nil {
		return nil, translateError(err)
	}
	return messages, nil
}

func (s *Source) resolveChannel(ctx context.Context, api *tg.Client, name string) (*tg.Channel, error) {
	start := time.Now()
	peer, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	metrics.ObserveNetworkRequest("telegram", "resolve_username", name, start, err)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	for _, chat := range peer.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: %w", name, domain.ErrChannelUnavailable)
}

func (s *Source) fetchHistory(ctx context.Context, api *tg.Client, ch *tg.Channel, name string, limit int) ([]domain.RawMessage, error) {
	peer := &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	var out []domain.RawMessage
	offsetID := 0
	for {
		batch := historyBatchSize
		if limit > 0 && limit-len(out) < batch {
			batch = limit - len(out)
		}
		if batch <= 0 {
			break
		}
		start := time.Now()
		history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    batch,
		})
		metrics.ObserveNetworkRequest("telegram", "get_history", name, start, err)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", name, err)
		}
		page, ok := history.(*tg.MessagesChannelMessages)
		if !ok || len(page.Messages) == 0 {
			break
		}
		for _, raw := range page.Messages {
			msg, ok := raw.(*tg.Message)
			if !ok {
				continue
			}
			out = append(out, s.convertMessage(ctx, api, msg, name))
			offsetID = msg.ID
			if len(out)%10 == 0 {
				s.log.Debug().Str("channel", name).Int("messages", len(out)).Msg("history progress")
			}
		}
		if len(page.Messages) < batch {
			break
		}
	}
	return out, nil
}

func (s *Source) convertMessage(ctx context.Context, api *tg.Client, msg *tg.Message, channel string) domain.RawMessage {
	raw := domain.RawMessage{
		MessageID:   int64(msg.ID),
		ChannelName: channel,
		MessageDate: time.Unix(int64(msg.Date), 0).UTC(),
		MessageText: msg.Message,
		HasMedia:    msg.Media != nil,
	}
	if views, ok := msg.GetViews(); ok {
		raw.Views = views
	}
	if forwards, ok := msg.GetForwards(); ok {
		raw.Forwards = forwards
	}
	if replyTo, ok := msg.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			raw.IsReply = true
			if id, ok := header.GetReplyToMsgID(); ok {
				replyID := int64(id)
				raw.ReplyToID = &replyID
			}
		}
	}
	if raw.HasMedia {
		if path, err := s.downloadPhoto(ctx, api, msg, channel); err != nil {
			s.log.Error().Err(err).Str("channel", channel).Int("message", msg.ID).Msg("media download failed")
		} else if path != "" {
			raw.ImagePath = path
		}
	}
	return raw
}

// downloadPhoto stores the largest photo size of the message, if any.
// Non-photo media is skipped without error.
func (s *Source) downloadPhoto(ctx context.Context, api *tg.Client, msg *tg.Message, channel string) (string, error) {
	media, ok := msg.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return "", nil
	}
	photo, ok := media.Photo.(*tg.Photo)
	if !ok {
		return "", nil
	}
	sizeType := ""
	for _, size := range photo.Sizes {
		if ps, ok := size.(*tg.PhotoSize); ok {
			sizeType = ps.Type
		}
	}
	if sizeType == "" {
		return "", nil
	}
	dir := filepath.Join(s.imagesDir, channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", msg.ID))
	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     sizeType,
	}
	start := time.Now()
	_, err := downloader.NewDownloader().Download(api, loc).ToPath(ctx, path)
	metrics.ObserveNetworkRequest("telegram", "download_media", channel, start, err)
	if err != nil {
		return "", fmt.Errorf("download photo %d: %w", msg.ID, err)
	}
	s.log.Debug().Str("path", path).Msg("downloaded image")
	return path, nil
}

// NormalizeChannelName strips t.me URLs and @-prefixes down to the bare
// channel username.
func NormalizeChannelName(channel string) string {
	name := strings.TrimSpace(channel)
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimPrefix(name, "@")
}

// translateError maps provider error codes onto the domain taxonomy.
func translateError(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.RateLimitError{RetryAfter: wait}
	}
	if tgerr.Is(err, "CHANNEL_PRIVATE", "CHANNEL_INVALID", "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
		return fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}
	return err
}
