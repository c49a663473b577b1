package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"boorubot/pkg/apperr"
	"boorubot/pkg/bus"
	"boorubot/pkg/danbooru"

	"github.com/stretchr/testify/require"
)

const testPrefix = "https://danbooru.donmai.us/posts/"

type stubFetcher struct {
	mu    sync.Mutex
	posts map[string]danbooru.Post
	err   error
	ids   []string
}

func (f *stubFetcher) FetchPost(_ context.Context, id string) (danbooru.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if f.err != nil {
		return danbooru.Post{}, f.err
	}
	post, ok := f.posts[id]
	if !ok {
		return danbooru.Post{}, apperr.Upstream(404, "post "+id)
	}
	return post, nil
}

func (f *stubFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// recordingSender fails the n-th send (0-based) when listed in failOn.
type recordingSender struct {
	mu     sync.Mutex
	failOn map[int]error
	sent   []bus.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.sent)
	s.sent = append(s.sent, msg)
	return s.failOn[idx]
}

func (s *recordingSender) messages() []bus.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bus.OutboundMessage(nil), s.sent...)
}

func newTestService(t *testing.T, fetcher PostFetcher, sender *recordingSender, events *bus.EventBus) *Service {
	t.Helper()
	svc, err := NewService(testPrefix, fetcher, sender, events, nil)
	require.NoError(t, err)
	return svc
}

func inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", ChatID: "100", MessageID: 7, Content: text, RequestID: "req-1"}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	fetcher := &stubFetcher{}
	sender := &recordingSender{}

	_, err := NewService("", fetcher, sender, nil, nil)
	require.Error(t, err)
	_, err = NewService(testPrefix, nil, sender, nil, nil)
	require.Error(t, err)
	_, err = NewService(testPrefix, fetcher, nil, nil, nil)
	require.Error(t, err)
}

func TestRouteIgnoresNonMatchingText(t *testing.T) {
	fetcher := &stubFetcher{}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	for _, text := range []string{
		"",
		"hello",
		"see https://danbooru.donmai.us/posts/1",
		"http://danbooru.donmai.us/posts/1",
		"https://danbooru.donmai.us/pools/1",
		"https://safebooru.donmai.us/posts/1",
		"  " + testPrefix + "1",
		"\n" + testPrefix + "1",
	} {
		require.NoError(t, svc.Route(context.Background(), inbound(text)))
	}

	require.Empty(t, fetcher.calls())
	require.Empty(t, sender.messages())
}

func TestRouteDeliversPhotoWithCaption(t *testing.T) {
	fetcher := &stubFetcher{posts: map[string]danbooru.Post{
		"4963030": {FileURL: "https://x/img.jpg", Tags: []string{"a", "b", "c"}},
	}}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	err := svc.Route(context.Background(), inbound(testPrefix+"4963030?q=yoga_pants+shorts+"))
	require.NoError(t, err)

	require.Equal(t, []string{"4963030"}, fetcher.calls())
	sent := sender.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "100", sent[0].ChatID)
	require.Equal(t, "https://x/img.jpg", sent[0].PhotoURL)
	require.Equal(t, "🔖 <b>Tags</b>: a, b, c", sent[0].Content)
	require.Equal(t, bus.ParseModeHTML, sent[0].ParseMode)
}

func TestRouteTrimsTrailingWhitespaceInsideHandler(t *testing.T) {
	fetcher := &stubFetcher{posts: map[string]danbooru.Post{"1": {FileURL: "https://x/img.jpg"}}}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	require.NoError(t, svc.Route(context.Background(), inbound(testPrefix+"1 \n")))

	require.Equal(t, []string{"1"}, fetcher.calls())
	require.Len(t, sender.messages(), 1)
}

func TestHandleUpstreamErrorRepliesWithGenericText(t *testing.T) {
	fetcher := &stubFetcher{}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	require.NoError(t, svc.Handle(context.Background(), inbound(testPrefix+"404")))

	sent := sender.messages()
	require.Len(t, sent, 1)
	require.False(t, sent[0].IsPhoto(), "must not attempt a photo send on upstream failure")
	require.Equal(t, fetchFailedText, sent[0].Content)
	require.Equal(t, 7, sent[0].ReplyTo)
}

func TestHandleMalformedURLRepliesWithGenericText(t *testing.T) {
	fetcher := &stubFetcher{}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	require.NoError(t, svc.Handle(context.Background(), inbound(testPrefix)))

	require.Empty(t, fetcher.calls())
	sent := sender.messages()
	require.Len(t, sent, 1)
	require.Equal(t, fetchFailedText, sent[0].Content)
}

func TestHandleMissingFileURLIsTotalFailure(t *testing.T) {
	fetcher := &stubFetcher{posts: map[string]danbooru.Post{"5": {Tags: []string{"a"}}}}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	require.NoError(t, svc.Handle(context.Background(), inbound(testPrefix+"5")))

	sent := sender.messages()
	require.Len(t, sent, 1)
	require.False(t, sent[0].IsPhoto())
	require.Equal(t, fetchFailedText, sent[0].Content)
}

func TestHandlePhotoFailureFallsBackOnce(t *testing.T) {
	fetcher := &stubFetcher{posts: map[string]danbooru.Post{
		"1": {FileURL: "https://x/huge.png", Tags: []string{"tag<1>", "a&b"}},
	}}
	sender := &recordingSender{failOn: map[int]error{0: errors.New("wrong file identifier/HTTP URL specified")}}
	events := bus.NewEventBus()
	t.Cleanup(events.Close)
	eventCh, unsubscribe := events.Subscribe(context.Background(), 8)
	defer unsubscribe()

	svc := newTestService(t, fetcher, sender, events)
	require.NoError(t, svc.Handle(context.Background(), inbound(testPrefix+"1")))

	sent := sender.messages()
	require.Len(t, sent, 2)
	require.True(t, sent[0].IsPhoto())
	require.False(t, sent[1].IsPhoto())
	require.Equal(t, 7, sent[1].ReplyTo)
	require.Equal(t, bus.ParseModeHTML, sent[1].ParseMode)
	require.Equal(t, photoFallbackHeader+sent[0].Content, sent[1].Content)

	require.Equal(t, bus.EventLinkReceived, nextEvent(t, eventCh).Type)
	fallback := nextEvent(t, eventCh)
	require.Equal(t, bus.EventPostFallback, fallback.Type)
	require.Equal(t, apperr.KindDelivery, fallback.Payload["kind"])
}

func TestHandleFallbackFailureIsReturnedWithoutFurtherAttempts(t *testing.T) {
	fetcher := &stubFetcher{posts: map[string]danbooru.Post{"1": {FileURL: "https://x/img.jpg"}}}
	sender := &recordingSender{failOn: map[int]error{
		0: errors.New("photo rejected"),
		1: errors.New("chat not found"),
	}}
	var logs bytes.Buffer
	svc, err := NewService(testPrefix, fetcher, sender, nil, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	err = svc.Handle(context.Background(), inbound(testPrefix+"1"))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindFallbackDelivery))
	require.Len(t, sender.messages(), 2)
	require.Contains(t, logs.String(), `level=ERROR msg="Failed to send text fallback"`)
	require.Contains(t, logs.String(), "post_id=1")
}

func TestHandleErrorReplyFailureIsReturned(t *testing.T) {
	sender := &recordingSender{failOn: map[int]error{0: errors.New("bot was blocked by the user")}}
	svc := newTestService(t, &stubFetcher{}, sender, nil)

	err := svc.Handle(context.Background(), inbound(testPrefix+"1"))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindDelivery))
	require.Len(t, sender.messages(), 1)
}

func TestRouteHandlesMessagesConcurrently(t *testing.T) {
	posts := make(map[string]danbooru.Post)
	for i := range 20 {
		posts[fmt.Sprint(i)] = danbooru.Post{FileURL: fmt.Sprintf("https://x/%d.jpg", i), Tags: []string{fmt.Sprint(i)}}
	}
	fetcher := &stubFetcher{posts: posts}
	sender := &recordingSender{}
	svc := newTestService(t, fetcher, sender, nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Route(context.Background(), inbound(fmt.Sprintf("%s%d", testPrefix, i)))
		}()
	}
	wg.Wait()

	sent := sender.messages()
	require.Len(t, sent, 20)
	for _, msg := range sent {
		require.True(t, strings.HasPrefix(msg.PhotoURL, "https://x/"))
	}
}

func nextEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}
