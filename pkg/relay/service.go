package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"boorubot/pkg/apperr"
	"boorubot/pkg/bus"
	"boorubot/pkg/channel"
	"boorubot/pkg/danbooru"
)

const (
	fetchFailedText     = "Error: could not fetch data from Danbooru."
	photoFallbackHeader = "Could not send the image, but here are the tags:\n"
)

// PostFetcher resolves post metadata by identifier.
type PostFetcher interface {
	FetchPost(ctx context.Context, id string) (danbooru.Post, error)
}

// Service routes post links to the lookup-and-reply flow. It holds no
// per-message state, so Route is safe to call from many goroutines.
type Service struct {
	prefix string
	posts  PostFetcher
	sender channel.Sender
	events *bus.EventBus
	log    *slog.Logger
}

// NewService wires a relay service. events may be nil.
func NewService(prefix string, posts PostFetcher, sender channel.Sender, events *bus.EventBus, log *slog.Logger) (*Service, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, errors.New("post link prefix is required")
	}
	if posts == nil {
		return nil, errors.New("post fetcher is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		prefix: prefix,
		posts:  posts,
		sender: sender,
		events: events,
		log:    log.With("component", "relay.service"),
	}, nil
}

// Matches reports whether text is a post link this service handles. The
// check runs on the raw text; leading whitespace means no match.
func (s *Service) Matches(text string) bool {
	return strings.HasPrefix(text, s.prefix)
}

// Route is the channel.Handler entry point: messages that are not post links
// are ignored without any reply.
func (s *Service) Route(ctx context.Context, msg bus.InboundMessage) error {
	if !s.Matches(msg.Content) {
		return nil
	}

	return s.Handle(ctx, msg)
}

// Handle looks the linked post up and replies with the image and its tags.
//
// Lookup failures produce the generic error reply. A failed photo send is
// followed by exactly one text reply with the same caption; if that fails as
// well the error is returned with kind fallback_delivery_error.
func (s *Service) Handle(ctx context.Context, msg bus.InboundMessage) error {
	log := s.log.With("request_id", msg.RequestID, "chat_id", msg.ChatID)
	link := strings.TrimSpace(msg.Content)

	log.Info("Received post link", "url", link)
	s.publish(bus.EventLinkReceived, msg, "", nil)

	post, err := s.lookup(ctx, link)
	if err != nil {
		log.Error("Failed to fetch post metadata", "kind", apperr.KindOf(err), "status", apperr.StatusOf(err), "error", err)
		s.publish(bus.EventPostFailed, msg, post.ID, err)

		if sendErr := s.sender.Send(ctx, replyTo(msg, fetchFailedText, "")); sendErr != nil {
			return apperr.Wrap(apperr.KindDelivery, "send error reply", sendErr)
		}
		return nil
	}

	caption := FormatCaption(post.Tags)
	log.Debug("Sending photo", "post_id", post.ID, "image_url", post.FileURL, "caption", caption)

	photo := bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   caption,
		PhotoURL:  post.FileURL,
		ParseMode: bus.ParseModeHTML,
	}
	sendErr := s.sender.Send(ctx, photo)
	if sendErr == nil {
		log.Info("Post delivered", "post_id", post.ID, "tags", len(post.Tags))
		s.publish(bus.EventPostDelivered, msg, post.ID, nil)
		return nil
	}

	deliveryErr := apperr.Wrap(apperr.KindDelivery, "send photo", sendErr)
	log.Warn("Failed to send photo, falling back to text", "post_id", post.ID, "error", deliveryErr)

	if err := s.sender.Send(ctx, replyTo(msg, photoFallbackHeader+caption, bus.ParseModeHTML)); err != nil {
		fallbackErr := apperr.Wrap(apperr.KindFallbackDelivery, "send text fallback", err)
		log.Error("Failed to send text fallback", "post_id", post.ID, "error", fallbackErr)
		s.publish(bus.EventDeliveryFailed, msg, post.ID, fallbackErr)
		return fallbackErr
	}

	log.Info("Post tags delivered as text", "post_id", post.ID)
	s.publish(bus.EventPostFallback, msg, post.ID, deliveryErr)
	return nil
}

// lookup resolves a link to a post that has an image. The returned post
// carries the identifier whenever one could be extracted.
func (s *Service) lookup(ctx context.Context, link string) (danbooru.Post, error) {
	id, err := danbooru.ExtractPostID(link)
	if err != nil {
		return danbooru.Post{}, err
	}

	post, err := s.posts.FetchPost(ctx, id)
	if err != nil {
		return danbooru.Post{ID: id}, err
	}
	post.ID = id

	if strings.TrimSpace(post.FileURL) == "" {
		return post, apperr.New(apperr.KindUpstream, "post "+id+" has no file_url")
	}

	return post, nil
}

func (s *Service) publish(kind bus.EventType, msg bus.InboundMessage, postID string, err error) {
	event := bus.Event{
		Type:      kind,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		RequestID: msg.RequestID,
		PostID:    postID,
	}
	if err != nil {
		event.Error = err.Error()
		event.Payload = map[string]string{"kind": apperr.KindOf(err)}
	}

	s.events.Publish(event)
}

func replyTo(msg bus.InboundMessage, text string, parseMode string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		ReplyTo:   msg.MessageID,
		Content:   text,
		ParseMode: parseMode,
	}
}
