// Package bus serves synthesis requests over NATS. Audio for each request is
// published as sequenced PCM16 chunks followed by a completion message.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/go-neutts/internal/audio"
	"github.com/example/go-neutts/internal/pipeline"
	"github.com/example/go-neutts/internal/text"
)

// Header keys carried on audio chunks.
const (
	HeaderUtteranceID = "Utterance-Id"
	HeaderSeq         = "Seq"
)

// Request is the JSON body of a synthesis request.
type Request struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// Done is published once a request has finished, successfully or not.
type Done struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Chunks  int    `json:"chunks"`
	Samples int    `json:"samples"`
	Error   string `json:"error,omitempty"`
}

// Speaker runs one utterance into a sink.
type Speaker interface {
	SpeakTo(ctx context.Context, text string, sink pipeline.Sink) (pipeline.Report, error)
}

// Connect dials the NATS server at url.
func Connect(url string, log *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}

	conn, err := nats.Connect(url,
		nats.Name("neutts"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("url", url))

	return conn, nil
}

// Server handles requests on <prefix>.request one at a time.
type Server struct {
	conn    *nats.Conn
	speaker Speaker
	prefix  string
	log     *slog.Logger

	msgs chan *nats.Msg
	sub  *nats.Subscription
}

// New returns a server publishing under prefix.
func New(conn *nats.Conn, speaker Speaker, prefix string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	if prefix == "" {
		prefix = "neutts"
	}

	return &Server{
		conn:    conn,
		speaker: speaker,
		prefix:  prefix,
		log:     log.With(slog.String("component", "bus")),
	}
}

// Subject returns prefix.name.
func (s *Server) Subject(name string) string { return s.prefix + "." + name }

// Subscribe registers the request subscription with the server. Serve calls
// it when it has not been called yet.
func (s *Server) Subscribe() error {
	if s.sub != nil {
		return nil
	}

	s.msgs = make(chan *nats.Msg, 16)

	sub, err := s.conn.ChanSubscribe(s.Subject("request"), s.msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Subject("request"), err)
	}

	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	s.sub = sub

	return nil
}

// Serve handles requests until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Subscribe(); err != nil {
		return err
	}
	defer func() { _ = s.sub.Unsubscribe() }()

	s.log.Info("serving synthesis requests", slog.String("subject", s.Subject("request")))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.msgs:
			s.handle(ctx, msg)
		}
	}
}

func (s *Server) handle(ctx context.Context, msg *nats.Msg) {
	var req Request

	done := Done{Outcome: string(pipeline.OutcomeFailed)}

	if err := json.Unmarshal(msg.Data, &req); err != nil {
		done.Error = fmt.Sprintf("invalid request: %v", err)
		s.reply(msg, done)

		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	done.ID = req.ID

	if req.Text == "" {
		done.Error = text.ErrEmptyText.Error()
		s.reply(msg, done)

		return
	}

	sink := &chunkSink{conn: s.conn, subject: s.Subject("audio"), id: req.ID}

	report, err := s.speaker.SpeakTo(ctx, req.Text, sink)
	if report.Outcome != "" {
		done.Outcome = string(report.Outcome)
	}

	done.Chunks = sink.seq
	done.Samples = sink.samples

	if err != nil {
		done.Error = err.Error()
		s.log.Warn("request failed", slog.String("id", req.ID), slog.String("error", err.Error()))
	}

	s.reply(msg, done)
}

func (s *Server) reply(msg *nats.Msg, done Done) {
	data, err := json.Marshal(done)
	if err != nil {
		s.log.Error("marshal done", slog.String("error", err.Error()))
		return
	}

	if err := s.conn.Publish(s.Subject("done"), data); err != nil {
		s.log.Warn("publish done", slog.String("id", done.ID), slog.String("error", err.Error()))
	}

	if msg.Reply != "" {
		_ = msg.Respond(data)
	}
}

// chunkSink publishes each block of samples as one PCM16 message.
type chunkSink struct {
	conn    *nats.Conn
	subject string
	id      string
	seq     int
	samples int
}

func (c *chunkSink) WriteSamples(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if _, err := audio.WritePCM16Samples(&buf, samples); err != nil {
		return err
	}

	msg := nats.NewMsg(c.subject)
	msg.Header.Set(HeaderUtteranceID, c.id)
	msg.Header.Set(HeaderSeq, strconv.Itoa(c.seq))
	msg.Data = buf.Bytes()

	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish audio chunk: %w", err)
	}

	c.seq++
	c.samples += len(samples)

	return nil
}

func (c *chunkSink) Drain(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}
