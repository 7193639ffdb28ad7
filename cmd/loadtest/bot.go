package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/aeolun/wschat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

// How long a bot waits for the echo of its own message
const echoTimeout = 10 * time.Second

var loremWords = strings.Fields(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum))

// generateUsername creates a username from fragments of two random words.
// The result only uses letters, digits and '_' and is at most 20 characters.
func generateUsername(rng *rand.Rand) string {
	fragment := func() string {
		w := strings.ToLower(loremWords[rng.Intn(len(loremWords))])
		n := min(len(w), 3+rng.Intn(4)) // 3-6 chars
		return w[:n]
	}

	username := fragment() + fragment()
	if len(username) < 3 {
		username += "bot"
	}
	username = fmt.Sprintf("%s_%d", username, rng.Intn(1000))
	if len(username) > 20 {
		username = username[:20]
	}
	return username
}

// randomMessage returns 5-20 lorem ipsum words
func randomMessage(rng *rand.Rand) string {
	words := make([]string, 5+rng.Intn(16))
	for i := range words {
		words[i] = loremWords[rng.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesFailed    atomic.Int64
	messagesReceived  atomic.Int64 // broadcasts seen by all bots
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64

	// Detailed failure tracking
	postFailures   atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesPosted.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordPostFailure() {
	s.messagesFailed.Add(1)
	s.postFailures.Add(1)
}

func (s *Stats) recordTimeout() {
	s.messagesFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.disconnections.Add(1)
}

func (s *Stats) snapshot() (posted, failed, connErrors int64, avgResponseUs float64) {
	posted = s.messagesPosted.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()

	if posted > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(posted)
	}

	return
}

// BotClient represents a fake client for load testing
type BotClient struct {
	id       int
	username string
	conn     *client.Connection
	stats    *Stats
	rng      *rand.Rand

	seq     int
	pending map[string]time.Time // body -> send time, until our own echo arrives
}

func NewBotClient(id int, serverAddr string, stats *Stats) (*BotClient, error) {
	conn, err := client.NewConnection(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	// A load test measures one connection per bot
	conn.DisableAutoReconnect()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	return &BotClient{
		id:       id,
		username: generateUsername(rng),
		conn:     conn,
		stats:    stats,
		rng:      rng,
		pending:  make(map[string]time.Time),
	}, nil
}

// Connect dials the server and joins, waiting for the history reply
func (bc *BotClient) Connect(ctx context.Context) error {
	if err := bc.conn.Connect(); err != nil {
		bc.stats.recordConnectionError()
		return err
	}

	if err := bc.conn.Join(bc.username); err != nil {
		bc.stats.recordConnectionError()
		return err
	}

	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()

	for {
		select {
		case ev, ok := <-bc.conn.Incoming():
			if !ok {
				return client.ErrClosed
			}
			switch ev.Type {
			case protocol.TypeHistory:
				return nil
			case protocol.TypeError:
				bc.stats.recordConnectionError()
				return fmt.Errorf("join rejected: %s", ev.Error)
			}
		case <-timeout.C:
			bc.stats.recordConnectionError()
			return fmt.Errorf("timeout waiting for history")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run posts messages at random intervals until duration elapses or ctx is cancelled
func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay time.Duration) {
	defer bc.conn.Close()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	next := time.NewTimer(bc.randomDelay(minDelay, maxDelay))
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			bc.conn.Disconnect()
			return

		case ev, ok := <-bc.conn.Incoming():
			if !ok {
				bc.stats.recordDisconnection()
				return
			}
			bc.handleEvent(ev)

		case err, ok := <-bc.conn.Errors():
			if !ok {
				return
			}
			if errors.Is(err, client.ErrRejected) || !bc.conn.IsConnected() {
				bc.stats.recordDisconnection()
				return
			}

		case <-next.C:
			bc.expirePending()
			bc.post()
			next.Reset(bc.randomDelay(minDelay, maxDelay))
		}
	}
}

func (bc *BotClient) randomDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(bc.rng.Int63n(int64(maxDelay-minDelay)))
}

func (bc *BotClient) post() {
	bc.seq++
	// The sequence number makes the body unique so the echo can be matched
	body := fmt.Sprintf("%s #%d", randomMessage(bc.rng), bc.seq)

	if err := bc.conn.Send(body); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			bc.stats.recordDisconnection()
		}
		bc.stats.recordPostFailure()
		return
	}
	bc.pending[body] = time.Now()
}

func (bc *BotClient) handleEvent(ev *protocol.ServerEvent) {
	switch ev.Type {
	case protocol.TypeMessage:
		bc.stats.messagesReceived.Add(1)
		if ev.Username != bc.username {
			return
		}
		if start, ok := bc.pending[ev.Message]; ok {
			delete(bc.pending, ev.Message)
			bc.stats.recordSuccess(time.Since(start).Microseconds())
		}
	case protocol.TypeError:
		bc.stats.recordPostFailure()
	}
}

// expirePending counts messages whose echo never arrived
func (bc *BotClient) expirePending() {
	for body, start := range bc.pending {
		if time.Since(start) > echoTimeout {
			delete(bc.pending, body)
			bc.stats.recordTimeout()
		}
	}
}
