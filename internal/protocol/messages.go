package protocol

// Synthesis modes assigned to a participant
const (
	ModeNone   = "none"
	ModeLocal  = "local"
	ModeServer = "server"
)

// Capabilities are device hints a client may send on join. They only
// influence which synthesis mode the participant is assigned.
type Capabilities struct {
	WebGPU        bool   `json:"webgpu"`
	GPUAdapter    string `json:"gpuAdapter,omitempty" validate:"max=256"`
	VRAMEstimate  int    `json:"vramEstimate" validate:"gte=0"` // MB
	WASM          bool   `json:"wasm"`
	MaxModelSize  string `json:"maxModelSize,omitempty" validate:"omitempty,oneof=small medium large"`
	PreferredMode string `json:"preferredMode,omitempty" validate:"omitempty,oneof=none local server"`
}

// Join asks to enter a room. An empty room id creates a new room.
type Join struct {
	RoomID       string        `json:"roomId" validate:"omitempty,max=64,printascii"`
	Language     string        `json:"language" validate:"required,min=2,max=16"`
	Name         string        `json:"name" validate:"required,max=64"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// Audio carries one chunk of base64 little-endian PCM16 mono audio
type Audio struct {
	Data      string `json:"data" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

// UtteranceEnd tells the server the client's own VAD saw the end of speech
type UtteranceEnd struct {
	Timestamp int64 `json:"timestamp"`
}

// Leave ends the participant's membership
type Leave struct{}

// VoiceReference carries a short reference recording of the speaker
type VoiceReference struct {
	SpeakerID  string `json:"speakerId" validate:"max=64"`
	VoiceData  string `json:"voiceData" validate:"required"`
	SampleRate int    `json:"sampleRate" validate:"gte=8000,lte=48000"`
	Timestamp  int64  `json:"timestamp"`
}

// ClientError reports a client-side failure for the server log
type ClientError struct {
	ErrorType    string         `json:"errorType" validate:"required,max=128"`
	ErrorMessage string         `json:"errorMessage" validate:"max=4096"`
	Context      map[string]any `json:"context,omitempty"`
}

// Ping is answered with Pong
type Ping struct{}

func (*Join) MessageType() Type           { return TypeJoin }
func (*Audio) MessageType() Type          { return TypeAudio }
func (*UtteranceEnd) MessageType() Type   { return TypeUtteranceEnd }
func (*Leave) MessageType() Type          { return TypeLeave }
func (*VoiceReference) MessageType() Type { return TypeVoiceReference }
func (*ClientError) MessageType() Type    { return TypeClientError }
func (*Ping) MessageType() Type           { return TypePing }

// ParticipantInfo is the public view of a participant
type ParticipantInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	SpeakerID string `json:"speakerId,omitempty"`
	TTSMode   string `json:"ttsMode"`
	TTSModel  string `json:"ttsModel,omitempty"`
}

// Joined confirms a join to the new participant
type Joined struct {
	Type          Type              `json:"type"`
	RoomID        string            `json:"roomId"`
	ParticipantID string            `json:"participantId"`
	Participants  []ParticipantInfo `json:"participants"`
	TTSMode       string            `json:"ttsMode"`
	TTSModel      string            `json:"ttsModel,omitempty"`
}

// ParticipantJoined notifies peers of a new participant
type ParticipantJoined struct {
	Type        Type            `json:"type"`
	Participant ParticipantInfo `json:"participant"`
}

// ParticipantLeft notifies peers that a participant is gone
type ParticipantLeft struct {
	Type          Type   `json:"type"`
	ParticipantID string `json:"participantId"`
}

// Translation delivers one utterance's text in every requested language
type Translation struct {
	Type         Type              `json:"type"`
	SpeakerID    string            `json:"speakerId"`
	SpeakerName  string            `json:"speakerName"`
	SourceLang   string            `json:"sourceLang"`
	SourceText   string            `json:"sourceText"`
	Translations map[string]string `json:"translations"`
	Timestamp    float64           `json:"timestamp"` // unix seconds
}

// TranslationAudio follows a Translation to server-synthesis recipients.
// Timestamp matches the Translation it voices.
type TranslationAudio struct {
	Type        Type    `json:"type"`
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	Language    string  `json:"language"`
	Audio       string  `json:"audio"`
	TTSEngine   string  `json:"ttsEngine"`
	Timestamp   float64 `json:"timestamp"`
}

// VoiceReferenceBroadcast relays a speaker's reference recording to peers
type VoiceReferenceBroadcast struct {
	Type        Type    `json:"type"`
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	VoiceData   string  `json:"voiceData"`
	SampleRate  int     `json:"sampleRate"`
	Timestamp   float64 `json:"timestamp"`
}

// Pong answers Ping
type Pong struct {
	Type Type `json:"type"`
}

func (*Joined) MessageType() Type                  { return TypeJoined }
func (*ParticipantJoined) MessageType() Type       { return TypeParticipantJoined }
func (*ParticipantLeft) MessageType() Type         { return TypeParticipantLeft }
func (*Translation) MessageType() Type             { return TypeTranslation }
func (*TranslationAudio) MessageType() Type        { return TypeTranslationAudio }
func (*VoiceReferenceBroadcast) MessageType() Type { return TypeVoiceReferenceBroadcast }
func (*Pong) MessageType() Type                    { return TypePong }

// NewJoined builds the join confirmation
func NewJoined(roomID, participantID string, participants []ParticipantInfo, ttsMode, ttsModel string) *Joined {
	if participants == nil {
		participants = []ParticipantInfo{}
	}
	return &Joined{
		Type:          TypeJoined,
		RoomID:        roomID,
		ParticipantID: participantID,
		Participants:  participants,
		TTSMode:       ttsMode,
		TTSModel:      ttsModel,
	}
}

// NewParticipantJoined builds a join notification
func NewParticipantJoined(info ParticipantInfo) *ParticipantJoined {
	return &ParticipantJoined{Type: TypeParticipantJoined, Participant: info}
}

// NewParticipantLeft builds a leave notification
func NewParticipantLeft(participantID string) *ParticipantLeft {
	return &ParticipantLeft{Type: TypeParticipantLeft, ParticipantID: participantID}
}

// NewTranslation builds a translation broadcast
func NewTranslation(speakerID, speakerName, sourceLang, sourceText string, translations map[string]string, timestamp float64) *Translation {
	return &Translation{
		Type:         TypeTranslation,
		SpeakerID:    speakerID,
		SpeakerName:  speakerName,
		SourceLang:   sourceLang,
		SourceText:   sourceText,
		Translations: translations,
		Timestamp:    timestamp,
	}
}

// NewTranslationAudio builds the synthesized audio for one language of a
// translation
func NewTranslationAudio(t *Translation, language, audio, engine string) *TranslationAudio {
	return &TranslationAudio{
		Type:        TypeTranslationAudio,
		SpeakerID:   t.SpeakerID,
		SpeakerName: t.SpeakerName,
		Language:    language,
		Audio:       audio,
		TTSEngine:   engine,
		Timestamp:   t.Timestamp,
	}
}

// NewVoiceReferenceBroadcast builds a voice reference relay
func NewVoiceReferenceBroadcast(speakerID, speakerName, voiceData string, sampleRate int, timestamp float64) *VoiceReferenceBroadcast {
	return &VoiceReferenceBroadcast{
		Type:        TypeVoiceReferenceBroadcast,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		VoiceData:   voiceData,
		SampleRate:  sampleRate,
		Timestamp:   timestamp,
	}
}

// NewPong builds a pong
func NewPong() *Pong {
	return &Pong{Type: TypePong}
}
