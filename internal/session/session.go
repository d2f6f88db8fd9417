package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dankular/Babblefish/internal/audio"
	"github.com/Dankular/Babblefish/internal/pipeline"
	"github.com/Dankular/Babblefish/internal/protocol"
	"github.com/Dankular/Babblefish/internal/room"
	"github.com/Dankular/Babblefish/internal/vad"
)

// State is the lifecycle state of a session
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the state of one client connection. It is only touched by
// the connection's dispatch loop.
type session struct {
	id        string
	h         *Handler
	transport Transport
	limiter   *rate.Limiter
	logger    *slog.Logger
	createdAt time.Time

	state       State
	room        *room.Room
	participant *room.Participant
	segmenter   *vad.Segmenter
	scorer      *vad.Processor // nil when VAD is disabled

	irregularChunks uint64
}

// handleFrame processes one inbound frame and reports whether the
// connection stays open
func (s *session) handleFrame(ctx context.Context, data []byte) bool {
	if s.limiter != nil && !s.limiter.Allow() {
		s.sendError(protocol.NewError(protocol.CodeRateLimited, "too many messages"))
		return true
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("Rejected client message", slog.String("error", err.Error()))
		s.sendError(err)
		return true
	}

	s.h.metrics.RecordMessage(string(msg.MessageType()))

	if s.state == StateJoined {
		if s.room.Closed() {
			s.logger.Info("Room was closed while joined", slog.String("room", s.room.ID))
			s.sendError(protocol.NewError(protocol.CodeNotJoined, "room %s was closed", s.room.ID))
			s.detach()
		} else {
			s.room.Touch()
		}
	}

	switch m := msg.(type) {
	case *protocol.Join:
		return s.handleJoin(m)
	case *protocol.Audio:
		s.handleAudio(ctx, m)
	case *protocol.UtteranceEnd:
		s.handleUtteranceEnd(ctx)
	case *protocol.VoiceReference:
		s.handleVoiceReference(m)
	case *protocol.Leave:
		s.logger.Debug("Client left")
		return false
	case *protocol.ClientError:
		s.logger.Warn("Client reported error",
			slog.String("error_type", m.ErrorType),
			slog.String("error_message", m.ErrorMessage),
			slog.Any("context", m.Context))
	case *protocol.Ping:
		s.send(protocol.NewPong())
	}

	return true
}

func (s *session) handleJoin(m *protocol.Join) bool {
	if s.state == StateJoined {
		s.sendError(protocol.NewError(protocol.CodeAlreadyJoined, "already joined room %s", s.room.ID))
		return true
	}

	p := room.NewParticipant(s.id, strings.TrimSpace(m.Name), strings.ToLower(m.Language), s.transport)
	if m.Capabilities != nil {
		p.Capabilities = *m.Capabilities
		if s.h.tts != nil {
			p.TTSMode, p.TTSModel = s.h.tts.AssignMode(*m.Capabilities)
		}
	}

	r, err := s.h.rooms.JoinRoom(m.RoomID, p)
	if err != nil {
		s.releaseSynthesis(p)
		switch {
		case errors.Is(err, room.ErrRoomFull):
			s.sendError(protocol.NewError(protocol.CodeRoomFull, "room %s is full", m.RoomID))
			return false
		case errors.Is(err, room.ErrMaxRooms):
			s.sendError(protocol.NewError(protocol.CodeMaxRooms, "server cannot host more rooms"))
			return false
		default:
			s.logger.Error("Join failed", slog.String("room", m.RoomID), slog.String("error", err.Error()))
			s.sendError(protocol.NewError(protocol.CodeInternalError, "could not join room"))
			return true
		}
	}

	segmenter, scorer, err := s.h.newSegmenter(s.logger)
	if err != nil {
		s.h.rooms.LeaveRoom(r, p.ID)
		s.releaseSynthesis(p)
		s.logger.Error("Failed to create segmenter", slog.String("error", err.Error()))
		s.sendError(protocol.NewError(protocol.CodeInternalError, "could not start audio processing"))
		return true
	}

	s.room = r
	s.participant = p
	s.segmenter = segmenter
	s.scorer = scorer
	s.irregularChunks = 0
	s.state = StateJoined
	s.logger = s.logger.With(slog.String("room", r.ID))

	others := r.Others(p.ID)
	infos := make([]protocol.ParticipantInfo, 0, len(others))
	for _, o := range others {
		infos = append(infos, o.Info())
	}

	s.send(protocol.NewJoined(r.ID, p.ID, infos, p.TTSMode, p.TTSModel))
	s.broadcast(protocol.NewParticipantJoined(p.Info()))
	s.h.updateRoomGauges()

	s.logger.Info("Participant joined",
		slog.String("name", p.Name),
		slog.String("language", p.Language),
		slog.String("tts_mode", p.TTSMode),
		slog.Int("participants", r.Count()))

	return true
}

func (s *session) handleAudio(ctx context.Context, m *protocol.Audio) {
	if s.state != StateJoined {
		s.logger.Debug("Dropping audio before join")
		return
	}

	samples, err := audio.DecodeBase64PCM(m.Data)
	if err != nil {
		s.sendError(protocol.NewError(protocol.CodeInvalidMessage, "invalid audio data: %v", err))
		return
	}

	if expected := s.h.config.ChunkDuration; expected > 0 {
		d := audio.SamplesDuration(len(samples), s.h.config.Segmenter.SampleRate)
		if d > 2*expected || d < expected/2 {
			s.irregularChunks++
			s.logger.Debug("Irregular audio chunk",
				slog.Duration("chunk", d),
				slog.Duration("expected", expected))
		}
	}

	if utterance := s.segmenter.AddChunk(samples); utterance != nil {
		s.processUtterance(ctx, utterance)
	}
}

func (s *session) handleUtteranceEnd(ctx context.Context) {
	if s.state != StateJoined {
		s.sendError(protocol.NewError(protocol.CodeNotJoined, "join a room before ending an utterance"))
		return
	}

	if utterance := s.segmenter.Flush(); utterance != nil {
		s.processUtterance(ctx, utterance)
	}
}

func (s *session) handleVoiceReference(m *protocol.VoiceReference) {
	if s.state != StateJoined {
		s.sendError(protocol.NewError(protocol.CodeNotJoined, "join a room before sending a voice reference"))
		return
	}

	p := s.participant
	if s.h.tts != nil {
		s.h.tts.StoreVoiceReference(p.SpeakerID, m.VoiceData, m.SampleRate)
	}

	s.broadcast(protocol.NewVoiceReferenceBroadcast(p.SpeakerID, p.Name, m.VoiceData, m.SampleRate, unixSeconds(time.Now())))
}

// processUtterance runs the pipeline and delivers the translation to every
// other participant. Errors go to the speaker only.
func (s *session) processUtterance(ctx context.Context, utterance *vad.Utterance) {
	s.h.metrics.RecordUtterance(utterance.Forced, utterance.Duration().Seconds())

	r, p := s.room, s.participant
	targets := r.TargetLanguages(p.ID)
	if len(targets) == 0 {
		s.logger.Debug("No listeners, dropping utterance",
			slog.Duration("duration", utterance.Duration()))
		return
	}

	result, err := s.h.pipe.Process(ctx, utterance, targets)
	if err != nil {
		code := protocol.CodePipelineError
		if errors.Is(err, pipeline.ErrModelUnavailable) {
			code = protocol.CodeModelUnavailable
		}
		s.h.metrics.RecordPipelineFailure(string(code))
		s.logger.Warn("Utterance processing failed", slog.String("error", err.Error()))
		s.sendError(protocol.NewError(code, "could not process utterance: %v", err))
		return
	}

	s.h.metrics.RecordPipeline(result.ProcessingTime.Seconds())
	for _, target := range result.Fallbacks {
		s.h.metrics.RecordTranslationFallback(target)
	}

	if result.Empty() {
		s.logger.Debug("Utterance had no speech", slog.Duration("duration", utterance.Duration()))
		return
	}

	// The speaker may have been removed while the pipeline ran.
	if r.Closed() || !r.Has(p.ID) {
		s.logger.Debug("Speaker left during processing, discarding result")
		return
	}

	msg := protocol.NewTranslation(p.SpeakerID, p.Name, result.SourceLang, result.SourceText,
		result.Translations, unixSeconds(time.Now()))

	res := r.Broadcast(msg, p.ID)
	s.h.metrics.RecordDeliveryFailures(res.Failed)

	s.logger.Info("Translation delivered",
		slog.String("source_lang", result.SourceLang),
		slog.Int("languages", len(result.Translations)),
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", utterance.Duration()))

	// Synthesized audio follows the text as separate messages.
	if texts := s.synthesisTexts(r.Others(p.ID), result); len(texts) > 0 {
		logger := s.logger
		s.h.synthesis.Add(1)
		go func() {
			defer s.h.synthesis.Done()
			s.h.deliverAudio(context.WithoutCancel(ctx), r, p, msg, texts, logger)
		}()
	}
}

// synthesisTexts returns the translated text for every language a
// server-synthesis recipient listens in
func (s *session) synthesisTexts(recipients []*room.Participant, result *pipeline.Result) map[string]string {
	router := s.h.tts
	if router == nil || !router.Enabled() {
		return nil
	}

	texts := make(map[string]string)
	for _, r := range recipients {
		if r.TTSMode != protocol.ModeServer {
			continue
		}
		text, ok := result.Translations[r.Language]
		if !ok || strings.HasPrefix(text, pipeline.NoTranslatorPrefix) {
			continue
		}
		texts[r.Language] = text
	}
	return texts
}

// detach drops membership of a room the registry has already removed
func (s *session) detach() {
	s.logAudioStats()
	s.releaseSynthesis(s.participant)
	s.room = nil
	s.participant = nil
	s.segmenter = nil
	s.scorer = nil
	s.state = StateConnected
	s.logger = s.h.logger.With(slog.String("session", s.id))
}

// close leaves the room, notifies peers and closes the transport
func (s *session) close() {
	if s.state == StateClosed {
		return
	}

	if s.state == StateJoined {
		r, p := s.room, s.participant
		if _, removed := s.h.rooms.LeaveRoom(r, p.ID); removed {
			r.Broadcast(protocol.NewParticipantLeft(p.ID), p.ID)
		}
		s.releaseSynthesis(p)
		s.h.updateRoomGauges()
		s.logAudioStats()
		s.logger.Info("Participant left",
			slog.String("name", p.Name),
			slog.Int("remaining", r.Count()))
	}

	s.state = StateClosed
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("Transport close failed", slog.String("error", err.Error()))
	}
	s.logger.Debug("Session closed", slog.Duration("lifetime", time.Since(s.createdAt)))
}

// logAudioStats reports what the participant's audio stream looked like
func (s *session) logAudioStats() {
	if s.segmenter == nil {
		return
	}
	attrs := []any{
		slog.Any("segmenter", s.segmenter.Stats()),
		slog.Uint64("irregular_chunks", s.irregularChunks),
	}
	if s.scorer != nil {
		attrs = append(attrs, slog.Any("vad", s.scorer.GetStats()))
	}
	s.logger.Info("Audio statistics", attrs...)
}

func (s *session) releaseSynthesis(p *room.Participant) {
	if s.h.tts == nil || p == nil {
		return
	}
	s.h.tts.Release(p.TTSMode)
	s.h.tts.ForgetVoice(p.SpeakerID)
}

func (s *session) broadcast(msg protocol.Message) {
	res := s.room.Broadcast(msg, s.participant.ID)
	s.h.metrics.RecordDeliveryFailures(res.Failed)
}

func (s *session) send(msg protocol.Message) {
	if err := s.transport.Send(msg); err != nil {
		s.logger.Debug("Send failed",
			slog.String("type", string(msg.MessageType())),
			slog.String("error", err.Error()))
	}
}

// sendError reports err to the client. Errors without a client code are
// logged and sent as a generic internal error.
func (s *session) sendError(err error) {
	code := protocol.CodeOf(err)
	s.h.metrics.RecordProtocolError(string(code))

	var protoErr *protocol.Error
	if !errors.As(err, &protoErr) {
		s.logger.Error("Unclassified session error", slog.String("error", err.Error()))
		protoErr = protocol.NewError(code, "internal error")
	}
	s.send(protoErr)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
