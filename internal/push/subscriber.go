package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/blackmichael/clipfeed/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// GlobalChannel carries notifications and feed-wide post events.
	GlobalChannel = "global"

	cursorSaveInterval = 5 * time.Second
	reconnectBackoff   = 5 * time.Second
)

// PostChannel returns the channel name scoped to a single post.
func PostChannel(postID string) string {
	return "post:" + postID
}

// controlFrame is sent to the push server to join or leave a channel.
type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Subscriber connects to the push channel and feeds frames to an Ingestor.
type Subscriber struct {
	url      string
	ingestor *Ingestor
	cursors  domain.CursorRepository // optional
	logger   *slog.Logger

	backoff      time.Duration
	saveInterval time.Duration

	mu       sync.Mutex
	channels map[string]struct{}
	conn     *websocket.Conn
}

// NewSubscriber creates a new push subscriber joined to the global channel.
// cursors may be nil, in which case every connection starts from live.
func NewSubscriber(
	pushURL string,
	ingestor *Ingestor,
	cursors domain.CursorRepository,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:          pushURL,
		ingestor:     ingestor,
		cursors:      cursors,
		logger:       logger,
		backoff:      reconnectBackoff,
		saveInterval: cursorSaveInterval,
		channels:     map[string]struct{}{GlobalChannel: {}},
	}
}

// Join subscribes to a channel. The subscription survives reconnects.
func (s *Subscriber) Join(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[channel]; ok {
		return nil
	}
	s.channels[channel] = struct{}{}
	return s.sendLocked(controlFrame{Action: "subscribe", Channel: channel})
}

// Leave unsubscribes from a channel. Leaving a channel that was never
// joined is a no-op.
func (s *Subscriber) Leave(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[channel]; !ok {
		return nil
	}
	delete(s.channels, channel)
	return s.sendLocked(controlFrame{Action: "unsubscribe", Channel: channel})
}

// Channels returns the joined channels in sorted order.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// sendLocked writes a control frame if connected. Callers hold s.mu.
func (s *Subscriber) sendLocked(frame controlFrame) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s %s: %w", frame.Action, frame.Channel, err)
	}
	return nil
}

// Start connects to the push channel and processes events until the
// context is cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("push connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.backoff):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", fmt.Sprintf("%d", cursor))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Subscriber) loadCursor(ctx context.Context) int64 {
	if s.cursors == nil {
		return 0
	}
	cursor, err := s.cursors.GetCursor(ctx, GlobalChannel)
	if err != nil {
		s.logger.Warn("failed to load push cursor, starting from live", "error", err)
		return 0
	}
	return cursor
}

func (s *Subscriber) saveCursor(ctx context.Context, cursor int64) bool {
	if s.cursors == nil || cursor == 0 {
		return true
	}
	if err := s.cursors.UpdateCursor(ctx, GlobalChannel, cursor); err != nil {
		s.logger.Error("failed to save push cursor", "error", err)
		return false
	}
	return true
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	wsURL, err := s.buildURL(s.loadCursor(ctx))
	if err != nil {
		return err
	}
	s.logger.Info("connecting to push channel", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	for ch := range s.channels {
		if err := s.sendLocked(controlFrame{Action: "subscribe", Channel: ch}); err != nil {
			s.conn = nil
			s.mu.Unlock()
			conn.Close()
			return err
		}
	}
	s.mu.Unlock()

	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		wg.Wait()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	s.logger.Info("connected to push channel")

	lastCursorSave := time.Now()
	var latestSeq, savedSeq int64
	var framesReceived, eventsDispatched int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Keep the furthest position even when the connection drops.
			if latestSeq != savedSeq {
				s.saveCursor(context.WithoutCancel(ctx), latestSeq)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		framesReceived++
		env, err := decodeEnvelope(message)
		if err != nil {
			s.logger.Warn("dropping undecodable push frame", "error", err)
			continue
		}
		if env.Seq > latestSeq {
			latestSeq = env.Seq
		}
		if s.ingestor.ingestEnvelope(env) {
			eventsDispatched++
		}

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("push stats",
				"frames_received", framesReceived,
				"events_dispatched", eventsDispatched,
			)
			lastStatsLog = time.Now()
		}

		// Periodically save cursor
		if latestSeq != savedSeq && time.Since(lastCursorSave) >= s.saveInterval {
			if s.saveCursor(ctx, latestSeq) {
				savedSeq = latestSeq
				lastCursorSave = time.Now()
			}
		}
	}
}
